package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	approvaldomain "github.com/smallbiznis/needflow/internal/approval/domain"
	auditdomain "github.com/smallbiznis/needflow/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	"github.com/smallbiznis/needflow/internal/authorization"
	"github.com/smallbiznis/needflow/internal/config"
	distributiondomain "github.com/smallbiznis/needflow/internal/distribution/domain"
	matchdomain "github.com/smallbiznis/needflow/internal/match/domain"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
	"github.com/smallbiznis/needflow/internal/observability"
	obsmiddleware "github.com/smallbiznis/needflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/needflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/needflow/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine          *gin.Engine
	cfg             config.Config
	needSvc         needdomain.Service
	matchSvc        matchdomain.Service
	approvalSvc     approvaldomain.Service
	distributionSvc distributiondomain.Service
	catalogSvc      catalogdomain.Service
	auditSvc        auditdomain.Service
	authz           authorization.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	NeedSvc         needdomain.Service
	MatchSvc        matchdomain.Service
	ApprovalSvc     approvaldomain.Service
	DistributionSvc distributiondomain.Service
	CatalogSvc      catalogdomain.Service
	AuditSvc        auditdomain.Service
	Authz           authorization.Service `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		needSvc:         p.NeedSvc,
		matchSvc:        p.MatchSvc,
		approvalSvc:     p.ApprovalSvc,
		distributionSvc: p.DistributionSvc,
		catalogSvc:      p.CatalogSvc,
		auditSvc:        p.AuditSvc,
		authz:           p.Authz,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Supply catalog --------
	api.GET("/supply_items", s.ListSupplyItems)

	// -------- Needs --------
	api.GET("/needs", s.ListNeeds)
	api.POST("/needs", s.ActorRequired(), s.CreateNeed)
	api.GET("/needs/:id", s.GetNeedByID)
	api.POST("/needs/:id/transitions", s.ActorRequired(), s.TransitionNeed)
	api.POST("/needs/:id/collect", s.ActorRequired(), s.CollectNeed)

	// -------- Matches --------
	api.GET("/needs/:id/matches", s.ListMatches)
	api.POST("/needs/:id/matches", s.ActorRequired(), s.RecordMatch)

	// -------- Distribution batches --------
	api.GET("/batches", s.ListBatches)
	api.POST("/batches", s.ActorRequired(), s.CreateBatch)
	api.GET("/batches/:id", s.GetBatchByID)
	api.GET("/batches/:id/manifest", s.GetBatchManifest)
	api.POST("/batches/:id/approve", s.ActorRequired(), s.ApproveBatch)
	api.POST("/batches/:id/reject", s.ActorRequired(), s.RejectBatch)
	api.POST("/batches/:id/complete", s.ActorRequired(), s.CompleteBatch)

	// -------- Audit --------
	api.GET("/audit_logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
