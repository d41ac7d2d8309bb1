package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/spendledger/internal/config"
	inventorydomain "github.com/smallbiznis/spendledger/internal/inventory/domain"
	"github.com/smallbiznis/spendledger/internal/ledger"
	"github.com/smallbiznis/spendledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/spendledger/internal/observability/logger"
	obstracing "github.com/smallbiznis/spendledger/internal/observability/tracing"
	reconciledomain "github.com/smallbiznis/spendledger/internal/reconcile/domain"
	relinkdomain "github.com/smallbiznis/spendledger/internal/relink/domain"
	snapshotdomain "github.com/smallbiznis/spendledger/internal/snapshot/domain"
	spendingdomain "github.com/smallbiznis/spendledger/internal/spending/domain"
	summarydomain "github.com/smallbiznis/spendledger/internal/summary/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ledger.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	inventorySvc inventorydomain.Service
	spendingSvc  spendingdomain.Service
	snapshotSvc  snapshotdomain.Service
	relinkSvc    relinkdomain.Service
	reconcileSvc reconciledomain.Service
	summarySvc   summarydomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Log          *zap.Logger
	InventorySvc inventorydomain.Service
	SpendingSvc  spendingdomain.Service
	SnapshotSvc  snapshotdomain.Service
	RelinkSvc    relinkdomain.Service
	ReconcileSvc reconciledomain.Service
	SummarySvc   summarydomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		log:          p.Log.Named("http.server"),
		inventorySvc: p.InventorySvc,
		spendingSvc:  p.SpendingSvc,
		snapshotSvc:  p.SnapshotSvc,
		relinkSvc:    p.RelinkSvc,
		reconcileSvc: p.ReconcileSvc,
		summarySvc:   p.SummarySvc,
	}
}

// RegisterRoutes mounts the ledger API under /api.
func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	api.POST("/batches", s.CreateBatch)
	api.POST("/customers", s.CreateCustomer)
	api.POST("/invoice-entities", s.CreateInvoiceEntity)

	accounts := api.Group("/accounts")
	{
		accounts.POST("", s.CreateAccount)
		accounts.POST("/status/bulk", s.BulkSetStatus)
		accounts.GET("/:id", s.GetAccount)
		accounts.PUT("/:id/spending/:date", s.RecordSpend)
		accounts.GET("/:id/spending", s.ListSpending)
		accounts.GET("/:id/spending/total", s.AggregateSpend)
		accounts.GET("/:id/snapshots", s.ListSnapshots)
		accounts.POST("/:id/relink", s.Relink)
	}

	api.POST("/relink/bulk", s.BulkRelink)

	reconcile := api.Group("/reconcile")
	{
		reconcile.POST("", s.ReconcileAll)
		reconcile.POST("/jobs", s.RunReconcileJob)
		reconcile.POST("/:entity_type/:id", s.ReconcileEntity)
		reconcile.GET("/:entity_type/:id/verify", s.VerifyEntity)
	}

	summary := api.Group("/summary")
	{
		summary.GET("/:entity_type/:id", s.GetEntitySummary)
		summary.GET("/:entity_type/:id/as-of", s.AttributedAsOf)
	}
}
