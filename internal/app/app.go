// Package app assembles the sync service from configuration: remote store,
// broker, local cache, archive and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/censo/censo/backend/go-services/internal/config"
	"github.com/censo/censo/backend/go-services/internal/database"
	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/broker"
	"github.com/censo/censo/backend/go-services/internal/record/cache"
	"github.com/censo/censo/backend/go-services/internal/record/handler"
	"github.com/censo/censo/backend/go-services/internal/record/notify"
	"github.com/censo/censo/backend/go-services/internal/record/remote"
	"github.com/censo/censo/backend/go-services/internal/record/repository"
	"github.com/censo/censo/backend/go-services/internal/record/service"
	"github.com/censo/censo/backend/go-services/internal/storage"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/censo/censo/backend/go-services/pkg/metrics"
	"github.com/censo/censo/backend/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

// App is a running set of collaborators. Close releases them.
type App struct {
	Config  *config.Config
	Manager *service.Manager
	Notes   *notify.Broadcaster
	Store   *remote.Store

	mongo   *mongo.Client
	redis   *redis.Client
	sqlite  *sql.DB
	archive *storage.RecordArchive
}

// Build connects to whatever the configuration names. MongoDB and Redis are
// optional; when absent or unreachable the in-memory implementations are
// used, as in development.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	var repo repository.Repository = repository.NewMemoryRepo()
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, time.Second)
		if err != nil {
			logger.Warnf("cannot connect to MongoDB (%v), using memory-backed repo", err)
		} else {
			a.mongo = client
			repo = repository.NewMongoRepo(client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection))
			logger.Infof("records stored in MongoDB %s.%s", cfg.MongoDB.Database, cfg.MongoDB.Collection)
		}
	}

	var b broker.Broker = broker.NewMemoryBroker()
	if addr := cfg.Redis.Addr(); addr != "" {
		client, err := database.ConnectRedis(ctx, addr, cfg.Redis.Password, cfg.Redis.DB, 5*time.Second)
		if err != nil {
			logger.Warnf("cannot connect to Redis (%v), updates only reach this process", err)
		} else {
			a.redis = client
			b = broker.NewRedisBroker(client, cfg.Redis.ChannelPrefix)
			logger.Infof("record updates fan out through Redis %s", addr)
		}
	}

	lc, err := a.buildCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Store = remote.New(repo, b, cfg.Sync.DeviceID)
	a.Notes = notify.NewBroadcaster(notify.LogNotifier{})
	a.Manager = service.NewManager(lc, a.Store, a.Notes, ServiceOptions(cfg.Sync))

	if cfg.MinIO.Enabled() {
		s, err := storage.NewMinIOStorage(ctx, &cfg.MinIO)
		if err != nil {
			logger.Warnf("record archive disabled: %v", err)
		} else {
			a.archive = storage.NewRecordArchive(s)
			a.Manager.SetArchiver(a.archive)
		}
	}

	logger.Infof("device %s ready (cache=%s mongo=%v redis=%v archive=%v)",
		cfg.Sync.DeviceID, cfg.Cache.Driver, a.mongo != nil, a.redis != nil, a.archive != nil)
	return a, nil
}

// ServiceOptions converts the sync settings into orchestrator options.
func ServiceOptions(s config.SyncConfig) service.Options {
	opts := service.DefaultOptions()
	opts.SavedResetDelay = s.SavedResetDelay
	opts.SavingLockRelease = s.SavingLockRelease
	opts.EchoGuardWindow = s.EchoGuardWindow
	opts.ConflictRefreshDelay = s.ConflictRefreshDelay
	opts.ReconcileInterval = s.ReconcileInterval
	opts.WriteTimeout = s.WriteTimeout
	opts.IOTimeout = s.IOTimeout
	return opts
}

func (a *App) buildCache(ctx context.Context) (record.LocalCache, error) {
	switch a.Config.Cache.Driver {
	case "", "memory":
		return cache.NewMemoryCache(), nil
	case "sqlite":
		db, err := database.OpenSQLite(a.Config.Cache.Path)
		if err != nil {
			return nil, err
		}
		a.sqlite = db
		return cache.NewSQLiteCache(ctx, db)
	case "redis":
		if a.redis == nil {
			return nil, fmt.Errorf("cache driver redis needs a reachable REDIS_HOST")
		}
		return cache.NewRedisCache(a.redis, a.Config.Cache.Prefix, a.Config.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", a.Config.Cache.Driver)
	}
}

// Close stops every orchestrator and disconnects.
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.CloseAll()
	}
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.mongo.Disconnect(ctx)
	}
}

// Router builds the HTTP API. Metrics are registered on reg and served
// from it; a nil reg means the default Prometheus registry.
func (a *App) Router(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.CORSMiddleware(a.Config.Server.AllowedOrigins))

	rl := a.Config.RateLimit
	if rl.Enabled {
		if rl.UseRedis && a.redis != nil {
			r.Use(middleware.RedisRateLimitMiddleware(a.redis, rl.RPS, rl.Burst, time.Duration(rl.WindowSeconds)*time.Second))
		} else {
			r.Use(middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", a.ready)

	if reg != nil {
		metrics.RegisterCollectors(reg)
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	} else {
		metrics.RegisterCollectors(prometheus.DefaultRegisterer)
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	h := handler.RegisterRecordRoutes(r, a.Manager, a.Notes)
	h.AllowOrigins(a.Config.Server.AllowedOrigins)
	return r
}

// ready reports 200 only when every configured dependency answers.
func (a *App) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ok := true
	deps := map[string]bool{}
	if a.Config.MongoDB.URI != "" {
		deps["mongodb"] = a.mongo != nil && a.mongo.Ping(ctx, nil) == nil
		ok = ok && deps["mongodb"]
	}
	if a.Config.Redis.Addr() != "" {
		deps["redis"] = a.redis != nil && a.redis.Ping(ctx).Err() == nil
		ok = ok && deps["redis"]
	}
	if a.sqlite != nil {
		deps["cache"] = a.sqlite.PingContext(ctx) == nil
		ok = ok && deps["cache"]
	}
	if a.Config.MinIO.Enabled() {
		deps["archive"] = a.archive != nil
	}

	status, code := "ready", http.StatusOK
	if !ok {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "deps": deps, "device": a.Config.Sync.DeviceID, "uptime": time.Since(startTime).String()})
}
