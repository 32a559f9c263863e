package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/catalog"
	"github.com/clinic/clinic/internal/domain/consultation"
	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/metrics"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// stores bundles the repositories of one backing store with the transactor
// that makes them atomic.
type stores struct {
	tx            db.Transactor
	pinger        db.Pinger
	items         inventory.ItemRepository
	procedures    catalog.ProcedureRepository
	consultations consultation.ConsultationRepository
	lines         consultation.LineItemRepository
	extras        consultation.ExtraChargeRepository
	close         func()
}

func memoryStores() *stores {
	return &stores{
		tx:            db.NewMemoryTransactor(),
		pinger:        db.MemoryPinger{},
		items:         inventory.NewMemoryItemRepository(),
		procedures:    catalog.NewMemoryProcedureRepository(),
		consultations: consultation.NewMemoryConsultationRepository(),
		lines:         consultation.NewMemoryLineItemRepository(),
		extras:        consultation.NewMemoryExtraChargeRepository(),
		close:         func() {},
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memoryStores(), nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &stores{
			tx:            db.NewPgTransactor(pool),
			pinger:        pool,
			items:         inventory.NewItemRepoPG(pool),
			procedures:    catalog.NewProcedureRepoPG(pool),
			consultations: consultation.NewConsultationRepoPG(pool),
			lines:         consultation.NewLineItemRepoPG(pool),
			extras:        consultation.NewExtraChargeRepoPG(pool),
			close:         pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// openRedis returns nil when no URL is configured.
func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// newServer wires the domain services onto an echo instance. rdb may be nil,
// in which case the catalog runs uncached and events only reach WebSocket
// subscribers.
func newServer(cfg *config.Config, st *stores, rdb *redis.Client, logger zerolog.Logger) *echo.Echo {
	m := metrics.New()

	// Domain services
	pool := inventory.NewPool(st.items)
	pool.SetMetrics(m)

	var cache catalog.Cache
	if rdb != nil {
		cache = catalog.NewRedisCache(rdb, cfg.CatalogCacheTTL)
	}
	cat := catalog.NewCatalog(st.procedures, pool, st.tx, cache, logger.With().Str("component", "catalog").Logger())
	cat.SetMetrics(m)

	svc := consultation.NewService(st.tx, st.consultations, st.lines, st.extras, pool, cat,
		logger.With().Str("component", "consultation").Logger())
	svc.SetMetrics(m)

	hub := websocket.NewHub(logger.With().Str("component", "websocket").Logger())
	publishers := consultation.MultiPublisher{consultation.NewHubPublisher(hub)}
	if rdb != nil {
		publishers = append(publishers, consultation.NewRedisPublisher(rdb, cfg.EventsChannel))
	}
	svc.SetPublisher(publishers)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	e.GET("/health", db.HealthHandler(st.pinger, cfg.Store))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	inventory.NewHandler(pool).RegisterRoutes(apiV1)
	catalog.NewHandler(cat).RegisterRoutes(apiV1)
	consultation.NewHandler(svc).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return e
}
