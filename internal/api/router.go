// Package api exposes the HTTP control surface: run control, status,
// schedule management and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/hotel-ingest/internal/config"
	"github.com/jonesrussell/hotel-ingest/internal/keypool"
	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/schedule"
	"github.com/jonesrussell/hotel-ingest/internal/taskstate"
	"github.com/jonesrussell/hotel-ingest/internal/workunits"
)

const healthCheckTimeout = 2 * time.Second

// PoiStarter starts a POI collection run.
type PoiStarter interface {
	Run(ctx context.Context, trigger, runID string) error
}

// HotelStarter starts a hotel sync run.
type HotelStarter interface {
	Run(ctx context.Context, trigger string, continuous bool) error
}

// Router holds the API dependencies.
type Router struct {
	state  *taskstate.Store
	units  *workunits.Store
	pool   *keypool.KeyPool
	cache  *schedule.Cache
	poi    PoiStarter
	hotel  HotelStarter
	db     *sqlx.DB
	redis  *redis.Client
	log    logger.Logger
	runCtx context.Context
}

// NewRouter creates an API router. runCtx bounds the lifetime of runs
// launched from HTTP so shutdown cancels them.
func NewRouter(
	runCtx context.Context,
	state *taskstate.Store,
	units *workunits.Store,
	pool *keypool.KeyPool,
	cache *schedule.Cache,
	poi PoiStarter,
	hotel HotelStarter,
	db *sqlx.DB,
	redisClient *redis.Client,
	log logger.Logger,
) *Router {
	return &Router{
		state:  state,
		units:  units,
		pool:   pool,
		cache:  cache,
		poi:    poi,
		hotel:  hotel,
		db:     db,
		redis:  redisClient,
		log:    log,
		runCtx: runCtx,
	}
}

// SetupRoutes builds the gin engine with all routes registered.
func (r *Router) SetupRoutes(debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", r.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	poi := v1.Group("/poi")
	poi.POST("/start", r.startPoiRun)
	poi.POST("/pause", r.pausePoiRun)
	poi.POST("/resume", r.resumePoiRun)
	poi.POST("/stop", r.stopPoiRun)
	poi.GET("/status", r.poiStatus)
	poi.GET("/runs/:runId/units", r.runUnits)
	poi.DELETE("/runs/:runId/units", r.clearRunUnits)

	hotels := v1.Group("/hotels")
	hotels.POST("/sync", r.startHotelSync)

	v1.POST("/schedule/invalidate", r.invalidateSchedules)
	v1.GET("/credentials", r.credentialStatus)

	return router
}

// NewServer wraps the engine in an http.Server with the configured
// timeouts.
func (r *Router) NewServer(cfg config.ServerConfig, debug bool) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      r.SetupRoutes(debug),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// healthCheck reports service health and dependency connectivity.
func (r *Router) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	health := gin.H{"status": "healthy", "service": "hotel-ingest"}

	dbConnected := true
	if r.db == nil || r.db.PingContext(ctx) != nil {
		dbConnected = false
		health["status"] = "degraded"
	}
	health["database"] = gin.H{"connected": dbConnected}

	redisConnected := true
	if r.redis == nil || r.redis.Ping(ctx).Err() != nil {
		redisConnected = false
		health["status"] = "degraded"
	}
	health["redis"] = gin.H{"connected": redisConnected}

	c.JSON(http.StatusOK, health)
}
