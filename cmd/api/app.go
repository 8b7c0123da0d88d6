package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fitcoach/internal/config"
	"fitcoach/internal/database"
	"fitcoach/internal/domain/access"
	"fitcoach/internal/domain/artifact"
	"fitcoach/internal/domain/notification"
	"fitcoach/internal/domain/realtime"
	"fitcoach/internal/domain/relationship"
	"fitcoach/internal/domain/upload"
	"fitcoach/internal/middleware"
	"fitcoach/internal/pkg/imaging"
	"fitcoach/internal/pkg/jwt"
	"fitcoach/internal/pkg/response"
	"fitcoach/internal/pkg/storage"
)

// app holds the wired components shared by serve and sweep.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *gorm.DB
	store   *artifact.Store
	links   *relationship.Service
	hub     *realtime.Hub
	sweeper *artifact.Sweeper
	router  *gin.Engine
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	opts := database.Options{Debug: cfg.DBDebug}
	if !database.IsPostgres(cfg.DatabaseURL) {
		// sqlite allows a single writer
		opts.MaxOpenConns = 1
	}
	db, err := database.Connect(cfg.DatabaseURL, opts)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db,
		&artifact.StoredArtifact{},
		&artifact.Variant{},
		&artifact.Reference{},
		&relationship.Link{},
	); err != nil {
		_ = database.Close(db)
		return nil, err
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}
	a.links = relationship.NewService(relationship.NewRepository(db))
	a.store = artifact.NewStore(blobs, artifact.NewRepository(db), imaging.NewPipeline(cfg.ImageQuality), log)
	a.sweeper = artifact.NewSweeper(a.store, artifact.SweepConfig{
		Interval:  cfg.SweepInterval,
		Retention: cfg.SweepRetention,
		Enabled:   cfg.SweepEnabled,
	}, log)
	a.hub = realtime.NewHub(log)
	a.router = a.routes()
	return a, nil
}

func (a *app) routes() *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	dispatcher := notification.NewDispatcher(notification.NewRouter(a.links, a.log), a.hub, a.log)
	uploads := upload.NewService(
		artifact.NewValidator(a.cfg.Policy),
		a.store,
		access.NewGate(a.links, a.log),
		dispatcher,
		a.log,
	)

	uploadHandler := upload.NewHandler(uploads)
	wsHandler := realtime.NewHandler(a.hub, realtime.WSConfig{
		WriteWait:  a.cfg.WSWriteWait,
		PongWait:   a.cfg.WSPongWait,
		SendBuffer: a.cfg.WSSendBuffer,
	}, a.cfg.CORSAllowedOrigins, a.log)
	eventHandler := notification.NewHandler(dispatcher)
	linkHandler := relationship.NewHandler(a.links, a.log)

	tokens := jwt.New(a.cfg.JWTSecret, 24*time.Hour)
	auth := middleware.JWTAuth(tokens)

	r := gin.New()
	r.Use(middleware.RequestLogger(a.log))
	r.Use(middleware.Recovery(a.log))
	r.Use(middleware.CORS(a.cfg.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{
			"status":    "ok",
			"connected": a.hub.Stats().Connected,
		})
	})

	v1 := r.Group("/api/v1")
	{
		upload.RegisterRoutes(v1, uploadHandler, auth)
		realtime.RegisterRoutes(v1, wsHandler, auth, middleware.AdminOnly())

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalTokenAuth(a.cfg.InternalToken, a.cfg.InternalAllowedIPs, a.log))
		{
			notification.RegisterInternalRoutes(internal, eventHandler)
			upload.RegisterInternalRoutes(internal, uploadHandler)
			relationship.RegisterInternalRoutes(internal, linkHandler)
		}
	}

	return r
}

// close drops live sockets and the database pool.
func (a *app) close() {
	a.hub.Close()
	if err := database.Close(a.db); err != nil {
		a.log.Warn("close database", slog.String("error", err.Error()))
	}
}
