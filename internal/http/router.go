package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/auth"
	"github.com/geocoder89/userhub/internal/cache"
	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/http/handlers"
	"github.com/geocoder89/userhub/internal/http/middlewares"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxRequestBody = 1 << 20 // 1 MiB

func NewRouter(cfg config.Config, log *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(registry)

	// middleware order: recovery → tracing → request id → logging → metrics →
	// hardening
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("userhub-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(prom.GinHandleMiddleware())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins()))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(maxRequestBody))

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	var listCache *cache.Cache
	if rdb != nil {
		listCache = cache.New(rdb, 10*time.Second)
	}

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL())
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	authHandler := handlers.NewAuthHandler(usersRepo, jwtManager)
	usersHandler := handlers.NewUsersHandler(usersRepo, jobsRepo, listCache)

	// health + metrics + docs

	pings := map[string]func() error{
		"postgres": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
	}

	if listCache != nil {
		pings["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			return listCache.Ping(ctx)
		}
	}

	health := handlers.NewHealthHandler(pings)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	r.GET("/docs", handlers.SwaggerUI)
	r.StaticFile("/docs/openapi.yaml", "./docs/openapi.yaml")

	// public
	r.POST("/auth/login", authHandler.Login)
	r.POST("/users", usersHandler.Register)

	// authenticated self-service
	me := r.Group("/users", authMW.RequireAuth())
	me.GET("/me", usersHandler.Me)
	me.PATCH("/me", usersHandler.UpdateMe)

	// admin only
	admin := r.Group("/users", authMW.RequireAuth(), authMW.RequireRole("admin"))
	admin.GET("", usersHandler.List)
	admin.GET("/inactive", usersHandler.ListInactive)
	admin.PATCH("/:id", usersHandler.UpdateByID)
	admin.DELETE("/:id", usersHandler.Delete)

	log.Info("router initialised", "env", cfg.Env, "cache", listCache != nil)

	return r
}
