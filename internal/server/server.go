package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"connect4-server/internal/broker"
	"connect4-server/internal/config"
	"connect4-server/internal/database"
)

const archiveBuffer = 256

type Server struct {
	cfg    config.Config
	logger *zap.Logger

	store       RoomStore
	gameManager *GameManager
	janitor     *Janitor
	sessions    *SessionTracker
	connections *ConnectionManager

	eventLimiter Limiter
	httpLimiter  *RateLimiter
	// localLimiter is the in-process event limiter when Redis is not configured;
	// the janitor prunes its idle buckets.
	localLimiter *RateLimiter

	archive *MatchArchive
	matches MatchStore

	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher broker.Publisher

	originPatterns []string
	startedAt      time.Time
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// Backends are the optional external systems. Zero values disable each one.
type Backends struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Publisher broker.Publisher
}

// NewServer connects the backends named in cfg and wires the server around them.
func NewServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, *http.Server, error) {
	var backends Backends

	if cfg.DatabaseURL != "" {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		backends.Pool = pool
		logger.Info("match archive enabled")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The limiter fails open, so an unreachable Redis at boot is not fatal.
			logger.Warn("redis ping failed, limiter will fail open until it recovers",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		backends.Redis = client
		logger.Info("distributed rate limiting enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.NATS.URL != "" {
		publisher, err := broker.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			if backends.Pool != nil {
				backends.Pool.Close()
			}
			return nil, nil, err
		}
		backends.Publisher = publisher
		logger.Info("lifecycle events enabled", zap.String("url", cfg.NATS.URL))
	}

	s := New(cfg, logger, backends)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, httpServer, nil
}

// New wires the server and starts its background tasks.
func New(cfg config.Config, logger *zap.Logger, backends Backends) *Server {
	store := NewMemoryStore()
	connections := NewConnectionManager(logger)
	janitor := NewJanitor(store, cfg.Janitor.Interval, cfg.Janitor.IdleThreshold, cfg.Janitor.EmptyRoomGrace, logger)

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		janitor:        janitor,
		sessions:       NewSessionTracker(),
		connections:    connections,
		httpLimiter:    NewWindowLimiter(cfg.Abuse.HTTPLimit, cfg.Abuse.HTTPWindow),
		pool:           backends.Pool,
		redis:          backends.Redis,
		publisher:      backends.Publisher,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		startedAt:      time.Now(),
	}
	if s.publisher == nil {
		s.publisher = broker.Nop{}
	}

	if s.redis != nil {
		s.eventLimiter = NewRedisLimiter(s.redis, cfg.Abuse.EventBurst, float64(cfg.Abuse.EventRate), logger)
	} else {
		s.localLimiter = NewRateLimiter(cfg.Abuse.EventBurst, float64(cfg.Abuse.EventRate))
		s.eventLimiter = s.localLimiter
	}

	opts := []Option{WithPublisher(s.publisher)}
	if s.pool != nil {
		s.matches = NewPostgresMatchStore(s.pool)
		s.archive = NewMatchArchive(s.matches, archiveBuffer, logger)
		opts = append(opts, WithArchive(s.archive))
	}
	s.gameManager = NewGameManager(store, connections, janitor, logger, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.archive != nil {
		s.archive.Start(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		janitor.Run(ctx, s.pruneLimiters)
	}()

	return s
}

func (s *Server) pruneLimiters() {
	removed := s.httpLimiter.Cleanup()
	if s.localLimiter != nil {
		removed += s.localLimiter.Cleanup()
	}
	if removed > 0 {
		s.logger.Debug("pruned idle rate limit buckets", zap.Int("removed", removed))
	}
}

// Shutdown stops background work, disconnects every client, flushes the match
// archive and releases the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", zap.Int("rooms", s.store.Len()), zap.Int("connections", s.connections.Count()))

	s.janitor.Stop()
	s.connections.CloseAll("server shutting down")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if s.archive != nil {
			s.archive.Wait()
		}
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for background tasks: %w", ctx.Err()))
	}

	if err := s.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return errors.Join(errs...)
}

// originPatterns turns allowed origins such as "http://localhost:3000" into the
// host patterns the websocket origin check matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		o = strings.TrimSuffix(o, "/")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
