// Package server exposes the HTTP API: benefit configuration, grant and
// revoke scheduling, customer account linking, and task operations.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/smallbiznis/entitled/internal/observability"
	obsmiddleware "github.com/smallbiznis/entitled/internal/observability/logger"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	clock        clock.Clock
	benefitSvc   benefitdomain.Service
	customerRepo customerdomain.Repository
	grantRepo    grantdomain.Repository
	taskRepo     *taskqueue.Repository
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	Clock        clock.Clock
	BenefitSvc   benefitdomain.Service
	CustomerRepo customerdomain.Repository
	GrantRepo    grantdomain.Repository
	TaskRepo     *taskqueue.Repository
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		clock:        p.Clock,
		benefitSvc:   p.BenefitSvc,
		customerRepo: p.CustomerRepo,
		grantRepo:    p.GrantRepo,
		taskRepo:     p.TaskRepo,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	// -------- Benefits --------
	api.GET("/benefits", s.ListBenefits)
	api.POST("/benefits", s.CreateBenefit)
	api.GET("/benefits/:id", s.GetBenefitByID)
	api.PATCH("/benefits/:id", s.UpdateBenefit)

	// -------- Grants --------
	api.GET("/benefits/:id/grants", s.ListBenefitGrants)
	api.POST("/benefits/:id/grant", s.GrantBenefit)
	api.POST("/benefits/:id/revoke", s.RevokeBenefit)

	// -------- Customers --------
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.PUT("/customers/:id/accounts/:platform", s.LinkCustomerAccount)

	// -------- Tasks --------
	api.GET("/tasks/:id", s.GetTaskByID)
	api.POST("/tasks/:id/requeue", s.RequeueTask)
}
