package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/soulvan/soulvan-backend/internal/audit"
	"github.com/soulvan/soulvan-backend/internal/db"
	"github.com/soulvan/soulvan-backend/internal/domain"
	"github.com/soulvan/soulvan-backend/internal/handlers"
	"github.com/soulvan/soulvan-backend/internal/leaderboard"
	"github.com/soulvan/soulvan-backend/internal/lifecycle"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/platform/embedding"
	"github.com/soulvan/soulvan-backend/internal/platform/redisbus"
	"github.com/soulvan/soulvan-backend/internal/provenance"
	"github.com/soulvan/soulvan-backend/internal/repos"
	"github.com/soulvan/soulvan-backend/internal/rules"
	"github.com/soulvan/soulvan-backend/internal/server"
)

type Repos struct {
	Submissions repos.SubmissionRepo
	Votes       repos.VoteRepo
	Effects     repos.EffectRepo
	Embeddings  repos.EmbeddingRepo
}

type App struct {
	Log         *logger.Logger
	DB          *gorm.DB
	Router      *gin.Engine
	Cfg         Config
	Repos       Repos
	Coordinator *lifecycle.Coordinator
	Advancer    *lifecycle.Advancer
	Board       *leaderboard.View
	Bus         redisbus.Bus
	cancel      context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := Repos{
		Submissions: repos.NewSubmissionRepo(theDB, log),
		Votes:       repos.NewVoteRepo(theDB, log),
		Effects:     repos.NewEffectRepo(theDB, log),
		Embeddings:  repos.NewEmbeddingRepo(theDB, log),
	}

	table := rules.Defaults()
	if cfg.RulesPath != "" {
		table, err = rules.Load(cfg.RulesPath)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("load rules table: %w", err)
		}
	}

	store, provider, err := newVectorStore(log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	log.Info("Embedding store initialized", "provider", string(provider))

	embedClient, err := embedding.NewClient(cfg.EmbedServiceURL, cfg.EmbedTimeout, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init embedding client: %w", err)
	}
	auditor, err := audit.New(log, embedClient, store, cfg.AuditTopK)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init auditor: %w", err)
	}

	signer, err := provenance.NewSigner(cfg.SigningSecret, cfg.SigningIssuer)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init signer: %w", err)
	}

	gateway, err := newStorageGateway(context.Background(), log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	var bus redisbus.Bus = redisbus.NopBus{}
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		bus, err = redisbus.NewRedisBus(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("Redis bus unavailable, continuing without notifications", "error", err)
			bus = redisbus.NopBus{}
		}
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	}

	coord, err := lifecycle.NewCoordinator(log, theDB,
		reposet.Submissions, reposet.Votes, reposet.Effects,
		auditor, signer, gateway, table, bus, cfg.lifecycleConfig())
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init coordinator: %w", err)
	}
	advancer := lifecycle.NewAdvancer(log, reposet.Submissions, coord, cfg.AdvancerTick)

	board, err := leaderboard.NewView(log, reposet.Submissions, table, rdb, cfg.LeaderboardTTL)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init leaderboard: %w", err)
	}

	router := server.NewRouter(server.RouterConfig{
		SubmissionHandler:  handlers.NewSubmissionHandler(coord),
		EventHandler:       handlers.NewEventHandler(coord),
		LeaderboardHandler: handlers.NewLeaderboardHandler(board),
		CorpusHandler:      handlers.NewCorpusHandler(auditor, reposet.Embeddings),
		StatsHandler:       handlers.NewStatsHandler(reposet.Submissions),
		AllowedOrigins:     server.SplitOrigins(cfg.AllowedOrigins),
	})

	return &App{
		Log:         log,
		DB:          theDB,
		Router:      router,
		Cfg:         cfg,
		Repos:       reposet,
		Coordinator: coord,
		Advancer:    advancer,
		Board:       board,
		Bus:         bus,
	}, nil
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Advancer != nil {
		a.Advancer.Start(ctx)
	}

	// effect events from peer instances invalidate the cached boards
	if a.Bus != nil && a.Board != nil {
		err := a.Bus.StartForwarder(ctx, func(ev redisbus.Event) {
			if ev.Effect == "" {
				return
			}
			a.Board.Invalidate(ctx, domain.SubmissionKind(ev.Kind))
		})
		if err != nil {
			a.Log.Warn("bus forwarder unavailable", "error", err)
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
