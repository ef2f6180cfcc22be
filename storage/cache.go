package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Mark-maati/collab-board/domain"
)

// Backend is the durable task API.
type Backend interface {
	ListTasks(ctx context.Context, boardID int64) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

// Cache serves board task listings from Redis and evicts a board after any
// successful mutation of its tasks. Redis failures fall back to the backend.
type Cache struct {
	base   Backend
	redis  *redis.Client
	ttl    time.Duration
	logger log.FieldLogger
}

// NewCache wraps base. A nil client or zero ttl disables caching.
func NewCache(base Backend, client *redis.Client, ttl time.Duration, logger log.FieldLogger) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, logger: logger}
}

func (c *Cache) ListTasks(ctx context.Context, boardID int64) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, boardID); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, boardID, tasks)
	return tasks, nil
}

// ListTasksFresh always reads from the backend and refreshes the cached copy.
// Sessions seed from it so the cache only ever serves one-shot reads.
func (c *Cache) ListTasksFresh(ctx context.Context, boardID int64) ([]domain.Task, error) {
	tasks, err := c.base.ListTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.storeTasks(ctx, boardID, tasks)
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, in)
	if err != nil {
		return t, err
	}
	c.evict(ctx, in.BoardID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, id, patch)
	if err != nil {
		return t, err
	}
	if t.BoardID > 0 {
		c.evict(ctx, t.BoardID)
	} else {
		c.evictOwner(ctx, id)
	}
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id int64) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evictOwner(ctx, id)
	return nil
}

func (c *Cache) loadTasks(ctx context.Context, boardID int64) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := tasksCacheKey(boardID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("board_id", boardID).Debug("snapshot cache read failed")
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, boardID int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	board := strconv.FormatInt(boardID, 10)
	_, err = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, tasksCacheKey(boardID), data, c.ttl)
		for _, t := range tasks {
			p.Set(ctx, ownerCacheKey(t.ID), board, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("board_id", boardID).Debug("snapshot cache write failed")
	}
}

// evictOwner drops the listing of whichever board task id was cached under.
func (c *Cache) evictOwner(ctx context.Context, id int64) {
	if c.redis == nil {
		return
	}
	board, err := c.redis.Get(ctx, ownerCacheKey(id)).Int64()
	if err != nil {
		return
	}
	c.evict(ctx, board)
	_ = c.redis.Del(ctx, ownerCacheKey(id)).Err()
}

func (c *Cache) evict(ctx context.Context, boardID int64) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(boardID)).Result()
}

func tasksCacheKey(boardID int64) string {
	return "tasks:board:" + strconv.FormatInt(boardID, 10)
}

func ownerCacheKey(taskID int64) string {
	return "tasks:owner:" + strconv.FormatInt(taskID, 10)
}
