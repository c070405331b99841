// Package api exposes the forecasting engine, portfolio simulator and
// selection optimizer over HTTP.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"flowcast/internal/config"
	"flowcast/internal/forecast"
	"flowcast/internal/portfolio"
	"flowcast/internal/simulation"
	"flowcast/internal/store"
	"flowcast/internal/taskrunner"
)

// Server represents the API server.
type Server struct {
	router    *gin.Engine
	cfg       *config.AppConfig
	repo      *store.Repository
	engine    *simulation.Engine
	facade    *forecast.Facade
	simulator *portfolio.Simulator
	runner    *taskrunner.Runner
}

// NewServer wires the routes over the given components.
func NewServer(cfg *config.AppConfig, repo *store.Repository, engine *simulation.Engine, runner *taskrunner.Runner) *Server {
	router := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsCfg))

	server := &Server{
		router:    router,
		cfg:       cfg,
		repo:      repo,
		engine:    engine,
		facade:    forecast.New(engine, repo),
		simulator: portfolio.NewSimulator(engine),
		runner:    runner,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	// Simulation endpoints
	api.POST("/simulate", s.simulate)
	api.POST("/simulate/async", s.simulateAsync)

	// Async task lifecycle
	api.GET("/tasks/:id", s.getTask)
	api.GET("/tasks/:id/result", s.getTaskResult)
	api.POST("/tasks/:id/cancel", s.cancelTask)

	// Forecast facade
	api.POST("/forecast/meet-deadline", s.meetDeadline)
	api.POST("/forecast/how-many", s.howMany)
	api.POST("/forecast/when", s.when)

	// Projects and forecast history
	api.POST("/projects", s.createProject)
	api.GET("/projects", s.listProjects)
	api.GET("/projects/:id", s.getProject)
	api.PUT("/projects/:id", s.updateProject)
	api.GET("/projects/:id/forecasts", s.listProjectForecasts)
	api.GET("/projects/:id/accuracy", s.projectAccuracy)
	api.POST("/forecasts/:id/actuals", s.recordActual)

	// Portfolios
	api.POST("/portfolios", s.createPortfolio)
	api.GET("/portfolios", s.listPortfolios)
	api.GET("/portfolios/:id", s.getPortfolio)
	api.POST("/portfolios/:id/projects", s.addPortfolioProject)
	api.GET("/portfolios/:id/projects", s.listPortfolioProjects)
	api.POST("/portfolios/:id/simulate", s.simulatePortfolio)
	api.POST("/portfolios/:id/cod-analysis", s.codAnalysis)
	api.POST("/portfolios/:id/optimize", s.optimizePortfolio)
	api.GET("/portfolios/:id/runs", s.listPortfolioRuns)

	// Health check
	api.GET("/health", s.healthCheck)
}

// Start starts the server.
func (s *Server) Start() error {
	return s.router.Run(":" + s.cfg.Port)
}

// Router exposes the handler for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	status, db := "healthy", "ok"
	if err := s.repo.Ping(); err != nil {
		status, db = "degraded", "down"
	}
	c.JSON(200, gin.H{
		"status":      status,
		"db":          db,
		"workers":     s.runner.Workers(),
		"queue_depth": s.runner.QueueDepth(),
		"time":        time.Now(),
	})
}
