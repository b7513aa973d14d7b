package server

import (
	"context"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/docstore/internal/api/consumer"
	"github.com/Zereker/docstore/internal/api/http"
	"github.com/Zereker/docstore/internal/api/mcp"
	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/internal/embedstore"
	"github.com/Zereker/docstore/internal/lineage"
	"github.com/Zereker/docstore/internal/persistence"
	"github.com/Zereker/docstore/internal/session"
	"github.com/Zereker/docstore/internal/sessioninit"
	"github.com/Zereker/docstore/pkg/document"
	genkitpkg "github.com/Zereker/docstore/pkg/genkit"
	"github.com/Zereker/docstore/pkg/graph"
	"github.com/Zereker/docstore/pkg/log"
	"github.com/Zereker/docstore/pkg/mq"
	"github.com/Zereker/docstore/pkg/redis"
	"github.com/Zereker/docstore/pkg/relation"
	"github.com/Zereker/docstore/pkg/sqlite"
	"github.com/Zereker/docstore/pkg/vector"
)

// publishTimeout bounds the Kafka publish of one embedding event.
const publishTimeout = 5 * time.Second

// Server represents the docstore server
type Server struct {
	config   Config
	logger   *slog.Logger
	index    vector.Index
	bridge   *bridge.Bridge
	stores   *persistence.Factory
	sessions *session.Provider
	sessInit *sessioninit.Provider
	consumer *consumer.Consumer
}

// NewServer creates a new server with the given configuration
func NewServer(conf Config) (*Server, error) {
	server := &Server{
		config: conf,
	}

	if err := server.initDepend(); err != nil {
		return nil, errors.WithMessage(err, "init server dependency failed")
	}

	if err := server.initStores(); err != nil {
		return nil, errors.WithMessage(err, "init document stores failed")
	}

	if err := server.initSessions(); err != nil {
		return nil, errors.WithMessage(err, "init sessions failed")
	}

	if err := server.initConsumer(); err != nil {
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// initDepend initializes all dependencies
func (s *Server) initDepend() error {
	// Initialize log first
	if err := log.Init(s.config.Log); err != nil {
		return errors.WithMessage(err, "failed to init log")
	}

	// Create logger for this module
	s.logger = log.Logger("server")
	s.logger.Info("initializing dependencies")

	ctx := context.Background()

	if s.config.Embedding.Enabled {
		s.logger.Info("initializing genkit models")
		if err := genkitpkg.Init(ctx, s.config.Models); err != nil {
			return errors.WithMessage(err, "failed to init models")
		}
	}

	s.logger.Info("initializing vector index")
	if err := vector.Init(s.config.Storage); err != nil {
		return errors.WithMessage(err, "failed to init vector index")
	}
	if idx := vector.NewStore(); idx != nil {
		s.index = idx
	} else {
		s.index = vector.NewMemoryIndex()
	}

	s.logger.Info("initializing document backend", "backend", s.config.Store.Backend)
	if err := relation.Init(s.config.Postgres); err != nil {
		return errors.WithMessage(err, "failed to init postgres")
	}
	if err := sqlite.Init(s.config.SQLite); err != nil {
		return errors.WithMessage(err, "failed to init sqlite")
	}

	// Initialize Neo4j graph store
	s.logger.Info("initializing graph store")
	if err := graph.Init(s.config.Neo4j); err != nil {
		return errors.WithMessage(err, "failed to init graph store")
	}

	// Initialize Kafka message queue
	s.logger.Info("initializing message queue")
	if err := mq.Init(s.config.Kafka); err != nil {
		return errors.WithMessage(err, "failed to init message queue")
	}

	// Initialize Redis
	s.logger.Info("initializing redis")
	if err := redis.Init(s.config.Redis); err != nil {
		return errors.WithMessage(err, "failed to init redis")
	}

	return nil
}

// initStores builds the per-tenant store factory and, when embedding is
// enabled, the embedding bridge in front of it.
func (s *Server) initStores() error {
	build, err := persistence.BuilderFor(s.config.Store.Backend)
	if err != nil {
		return err
	}

	opts := []persistence.Option{
		persistence.WithDefaultTenant(s.config.Store.DefaultTenant),
	}

	if s.config.Embedding.Enabled {
		if err := s.initBridge(build); err != nil {
			return err
		}
		opts = append(opts, persistence.WithDecorator(
			persistence.EmbeddingDecorator(s.indexerFor, s.observers, s.embedOptions()...),
		))
	}

	s.stores = persistence.NewFactory(build, opts...)
	persistence.SetDefault(s.stores)
	return nil
}

func (s *Server) initBridge(build persistence.Builder) error {
	s.logger.Info("initializing embedding bridge", "embedder", s.config.Embedding.Embedder)

	embedder, err := genkitpkg.NewEmbedder(s.config.Embedding.Embedder)
	if err != nil {
		return errors.WithMessage(err, "failed to bind embedder")
	}

	// 查询缓存快照写入未装饰的默认租户存储，避免快照本身被嵌入
	snapshots, err := build(s.defaultTenant())
	if err != nil {
		return errors.WithMessage(err, "failed to open query cache store")
	}

	opts := []bridge.Option{
		bridge.WithLogger(log.Logger("bridge")),
		bridge.WithTenant(s.defaultTenant()),
		bridge.WithQueryCacheStore(snapshots),
	}
	switch size := s.config.Embedding.QueryCacheSize; {
	case size > 0:
		opts = append(opts, bridge.WithQueryCache(size))
	case size < 0:
		opts = append(opts, bridge.WithQueryCache(0))
	}

	s.bridge = bridge.New(embedder, s.index, opts...)
	return nil
}

// indexerFor scopes the bridge to a tenant's vector namespace.
func (s *Server) indexerFor(tenant string) embedstore.Indexer {
	return s.bridge.ForTenant(tenant)
}

func (s *Server) embedOptions() []embedstore.Option {
	opts := []embedstore.Option{embedstore.WithLogger(log.Logger("embedstore"))}
	if s.config.Embedding.EmbedAll {
		opts = append(opts, embedstore.WithEmbedAll())
	} else if len(s.config.Embedding.Collections) > 0 {
		opts = append(opts, embedstore.WithCollections(s.config.Embedding.Collections...))
	}
	return opts
}

// observers returns the embedding observers of a tenant.
func (s *Server) observers(tenant string) []embedstore.Observer {
	observers := []embedstore.Observer{
		embedstore.LogObserver(log.Logger("embedstore").With("tenant", tenant)),
	}
	if producer := mq.NewQueue(); producer != nil && s.config.Kafka.EventTopic != "" {
		observers = append(observers, embedstore.NewPublisher(producer, s.config.Kafka.EventTopic, publishTimeout))
	}
	if g := graph.NewStore(); g != nil {
		observers = append(observers, lineage.NewRecorder(g, tenant).Observer())
	}
	return observers
}

func (s *Server) defaultTenant() string {
	if s.config.Store.DefaultTenant != "" {
		return s.config.Store.DefaultTenant
	}
	return document.DefaultTenant
}

// initSessions wires the per-tenant session stores and the initialization
// workflow.
func (s *Server) initSessions() error {
	s.logger.Info("initializing sessions")

	// 先打开默认租户，后端不可用时启动失败
	if _, err := s.stores.Store(s.stores.DefaultTenant()); err != nil {
		return errors.WithMessage(err, "failed to open session store")
	}

	if redis.Client() == nil {
		s.logger.Warn("redis disabled, sessions cached in process memory")
	}

	s.sessions = session.NewProvider(s.stores, s.sessionCache, session.WithLogger(log.Logger("session")))
	s.sessInit = sessioninit.NewProvider(s.sessions, sessioninit.WithLogger(log.Logger("sessioninit")))
	return nil
}

// sessionCache returns the cache layer of a tenant. Redis keys carry the
// tenant after the configured prefix.
func (s *Server) sessionCache(tenant string) session.Cache {
	if client := redis.Client(); client != nil {
		return redis.NewCache(client, s.config.Redis.KeyPrefix+tenant+":", s.config.Redis.TTLDuration())
	}
	return session.NewMemoryCache()
}

// initConsumer initializes the event consumer
func (s *Server) initConsumer() error {
	if !s.config.Kafka.Enabled || len(s.config.Kafka.Consumers) == 0 {
		return nil
	}

	s.logger.Info("initializing consumer")

	c, err := consumer.NewConsumer(s.stores, consumer.Config{
		Kafka: s.config.Kafka,
	})
	if err != nil {
		return errors.WithMessage(err, "failed to create consumer")
	}

	s.consumer = c
	return nil
}

// Start starts the server based on configuration mode
func (s *Server) Start() error {
	s.logger.Info("starting", "mode", s.config.Server.Mode, "port", s.config.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		s.logger.Info("received shutdown signal")
		cancel()
	}()

	if s.bridge != nil {
		if loaded, err := s.bridge.LoadQueryCache(ctx); err != nil {
			s.logger.Warn("failed to load query cache", "error", err)
		} else if loaded {
			s.logger.Info("query cache restored", "stats", s.bridge.QueryCacheStats())
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	// Start consumer
	if s.consumer != nil {
		g.Go(func() error {
			return s.runConsumer(ctx)
		})
	}

	switch s.config.Server.Mode {
	case "http":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
	case "mcp":
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	case "both":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	default:
		return errors.Errorf("unknown mode: %s", s.config.Server.Mode)
	}

	return g.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	ctx := context.Background()

	// Stop consumer
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
		}
	}

	if s.bridge != nil {
		if err := s.bridge.SaveQueryCache(ctx); err != nil {
			s.logger.Error("failed to save query cache", "error", err)
		}
	}

	if err := mq.Close(); err != nil {
		s.logger.Error("failed to close message queue", "error", err)
	}

	if err := graph.Close(ctx); err != nil {
		s.logger.Error("failed to close graph store", "error", err)
	}

	if err := redis.Close(); err != nil {
		s.logger.Error("failed to close redis", "error", err)
	}

	if err := relation.Close(ctx); err != nil {
		s.logger.Error("failed to close postgres", "error", err)
	}

	if err := sqlite.Close(ctx); err != nil {
		s.logger.Error("failed to close sqlite", "error", err)
	}

	if idx := vector.NewStore(); idx != nil {
		_ = idx.Close()
	}

	return nil
}

func (s *Server) dependencies() http.Dependencies {
	deps := http.Dependencies{
		Stores: s.stores,
		Sessions: func(tenant string) (http.Sessions, error) {
			store, err := s.sessions.Store(tenant)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		Initializer: func(tenant string) (http.Initializer, error) {
			svc, err := s.sessInit.Service(tenant)
			if err != nil {
				return nil, err
			}
			return svc, nil
		},
	}
	// 未启用嵌入时保持接口为 nil
	if s.bridge != nil {
		deps.Recall = s.bridge
	}
	return deps
}

func (s *Server) runHTTPServer(ctx context.Context) error {
	serverCfg := http.DefaultServerConfig()
	serverCfg.Port = s.config.Server.Port

	srv := http.NewServer(s.dependencies(), serverCfg)

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return errors.WithMessage(err, "http server error")
	}
	return nil
}

func (s *Server) runMCPServer(ctx context.Context) error {
	deps := mcp.Dependencies{Stores: s.stores}
	if s.bridge != nil {
		deps.Recall = s.bridge
	}

	server := mcp.NewServer(deps, mcp.ServerConfig{
		Name:    "docstore",
		Version: "0.1.0",
		Tenant:  s.defaultTenant(),
	})

	if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "mcp server error")
	}
	return nil
}

func (s *Server) runConsumer(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return errors.WithMessage(err, "consumer start error")
	}

	// Wait for context cancellation
	<-ctx.Done()

	return s.consumer.Stop()
}
