package hub

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultRelayChannel is the pub/sub channel task events travel on between
// hub instances.
const DefaultRelayChannel = "collab_board:events"

// Relay fans task events out to every hub instance sharing a Redis server.
type Relay struct {
	rc      *redis.Client
	channel string
	logger  log.FieldLogger
}

type relayMessage struct {
	BoardID int64  `json:"board_id"`
	Frame   string `json:"frame"`
}

func NewRelay(rc *redis.Client, channel string, logger log.FieldLogger) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{rc: rc, channel: channel, logger: logger.WithField("channel", channel)}
}

// Publish sends frame to every instance, including this one.
func (r *Relay) Publish(ctx context.Context, boardID int64, frame []byte) error {
	data, err := sonic.Marshal(relayMessage{BoardID: boardID, Frame: string(frame)})
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, data).Err()
}

// Start subscribes and returns once the subscription is confirmed. Messages
// are handed to deliver until ctx is cancelled.
func (r *Relay) Start(ctx context.Context, deliver func(boardID int64, frame []byte)) error {
	sub := r.rc.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	go r.loop(ctx, sub, deliver)
	return nil
}

func (r *Relay) loop(ctx context.Context, sub *redis.PubSub, deliver func(int64, []byte)) {
	for {
		r.consume(ctx, sub, deliver)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("pubsub channel closed, resubscribing")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		sub = r.rc.Subscribe(ctx, r.channel)
	}
}

func (r *Relay) consume(ctx context.Context, sub *redis.PubSub, deliver func(int64, []byte)) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			boardID, frame, err := decodeRelayMessage(msg.Payload)
			if err != nil {
				r.logger.WithError(err).Error("unable to parse relayed event")
				continue
			}
			deliver(boardID, frame)
		}
	}
}

func decodeRelayMessage(payload string) (int64, []byte, error) {
	var m relayMessage
	if err := sonic.UnmarshalString(payload, &m); err != nil {
		return 0, nil, err
	}
	if m.BoardID <= 0 || m.Frame == "" {
		return 0, nil, errors.New("relay message missing board or frame")
	}
	return m.BoardID, []byte(m.Frame), nil
}
