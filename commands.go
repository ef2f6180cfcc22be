package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Mark-maati/collab-board/auth"
	"github.com/Mark-maati/collab-board/cursor"
	"github.com/Mark-maati/collab-board/domain"
	"github.com/Mark-maati/collab-board/hub"
	"github.com/Mark-maati/collab-board/session"
	"github.com/Mark-maati/collab-board/storage"
	"github.com/Mark-maati/collab-board/taskapi"
)

const shutdownTimeout = 5 * time.Second

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return id, nil
}

// taskAPI returns the durable API client, behind the Redis snapshot cache
// when one is configured.
func (a *app) taskAPI(creds *auth.Credentials) (session.TaskAPI, error) {
	client := taskapi.NewClient(a.cfg.APIURL, creds, taskapi.WithLogger(a.logger))
	if a.cfg.RedisConnString == "" {
		return client, nil
	}
	rc, err := storage.NewRedisClient(a.cfg.RedisConnString)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return storage.NewCache(client, rc, a.cfg.SnapshotCacheTTL, a.logger), nil
}

// serveMetrics exposes the registry on METRICS_ADDR until ctx is done.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <board-id>",
		Short: "Follow a board live and print its columns on exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.serveMetrics(ctx)

			creds := auth.NewCredentials(a.cfg.AuthToken)
			creds.OnCleared(func() { a.logger.Warn("token rejected by the task api, credentials cleared") })
			api, err := a.taskAPI(creds)
			if err != nil {
				return err
			}

			s, err := session.Open(ctx, boardID, session.Options{
				API:         api,
				WSURL:       a.cfg.WSURL,
				Credentials: creds,
				RetryDelay:  a.cfg.ReconnectDelay,
				Throttle:    cursor.Throttle{Interval: a.cfg.CursorThrottle, MinDistance: a.cfg.CursorMinDistance},
				Logger:      a.logger,
				Metrics:     a.metrics,
				OnChange: func(kind session.ChangeKind) {
					a.logger.WithField("change", kind.String()).Info("board changed")
				},
				OnOther: func(ev domain.Event) {
					a.logger.WithField("event_type", ev.Type()).Info("unhandled event")
				},
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			columns := s.Columns()
			users := s.Users()
			_ = s.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "board %d, online: %s\n", boardID, strings.Join(users, ", "))
			for _, status := range domain.Statuses {
				fmt.Fprintf(out, "%s (%d)\n", status, len(columns[status]))
				for _, t := range columns[status] {
					fmt.Fprintf(out, "  #%d %s\n", t.ID, t.Title)
				}
			}
			return nil
		},
	}
}

func (a *app) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <board-id> <task-id> <status>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}
			taskID, err := parseID(args[1], "task")
			if err != nil {
				return err
			}
			status := domain.TaskStatus(args[2])
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[2])
			}
			api, err := a.taskAPI(auth.NewCredentials(a.cfg.AuthToken))
			if err != nil {
				return err
			}
			t, err := api.UpdateTask(cmd.Context(), taskID, domain.TaskPatch{Status: &status})
			if err != nil {
				return err
			}
			if t.BoardID != boardID {
				a.logger.WithFields(log.Fields{"task_id": taskID, "board_id": t.BoardID}).Warn("task belongs to another board")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d -> %s\n", t.ID, t.Status)
			return nil
		},
	}
}

func (a *app) createCmd() *cobra.Command {
	var status, description string
	cmd := &cobra.Command{
		Use:   "create <board-id> <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID(args[0], "board")
			if err != nil {
				return err
			}
			in := domain.NewTask{BoardID: boardID, Title: args[1], Status: domain.TaskStatus(status)}
			if !in.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			if description != "" {
				in.Description = &description
			}
			api, err := a.taskAPI(auth.NewCredentials(a.cfg.AuthToken))
			if err != nil {
				return err
			}
			t, err := api.CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created #%d\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", string(domain.StatusTodo), "initial column")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			api, err := a.taskAPI(auth.NewCredentials(a.cfg.AuthToken))
			if err != nil {
				return err
			}
			return api.DeleteTask(cmd.Context(), taskID)
		},
	}
}

// verifier picks JWKS verification when a key set URL is configured and the
// shared secret otherwise.
func (a *app) verifier() (*auth.Verifier, error) {
	hc := a.cfg.Hub
	if hc.JWKSURL != "" {
		jwks, err := keyfunc.Get(hc.JWKSURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		return auth.NewJWKSVerifier(jwks, hc.Audience, hc.Issuer)
	}
	if hc.SharedSecret == "" {
		return nil, errors.New("hub needs LOCAL_AUTH_SHARED_SECRET or HUB_JWKS_URL")
	}
	return auth.NewHS256Verifier([]byte(hc.SharedSecret))
}

func (a *app) hubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hub",
		Short: "Run the reference board hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			v, err := a.verifier()
			if err != nil {
				return err
			}
			cfg := hub.Config{
				Store:   hub.NewMemoryStore(),
				Auth:    v,
				Limits:  hub.Limits{PerBoard: a.cfg.Hub.MaxPerBoard, PerUser: a.cfg.Hub.MaxPerUser},
				Logger:  a.logger,
				Metrics: a.metrics,
			}
			if a.cfg.Hub.RelayEnabled {
				rc, err := storage.NewRedisClient(a.cfg.RedisConnString)
				if err != nil {
					return fmt.Errorf("redis: %w", err)
				}
				defer rc.Close()
				cfg.Relay = hub.NewRelay(rc, a.cfg.Hub.RelayChannel, a.logger)
			}
			h, err := hub.New(cfg)
			if err != nil {
				return err
			}
			if err := h.Start(ctx); err != nil {
				return fmt.Errorf("relay: %w", err)
			}

			e := hub.NewServer(h, a.registry)
			errc := make(chan error, 1)
			go func() {
				a.logger.WithField("addr", a.cfg.Hub.ListenAddr).Info("hub listening")
				errc <- e.Start(a.cfg.Hub.ListenAddr)
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			h.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an HS256 token signed with LOCAL_AUTH_SHARED_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Hub.SharedSecret == "" {
				return errors.New("LOCAL_AUTH_SHARED_SECRET must be set")
			}
			tok, err := auth.MintHS256([]byte(a.cfg.Hub.SharedSecret), args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
