// Package httpapi is the operator/observability HTTP surface: health,
// Prometheus-style metrics, the top-scores endpoint, and the
// operator-guarded kill-switch reset and walk-forward replay triggers.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/alpha-pool/decision-core/internal/opauth"
	"github.com/alpha-pool/decision-core/internal/risk"
	"github.com/alpha-pool/decision-core/internal/statestore"
)

// ScoreRanker supplies the data backing GET /ranks/top.
type ScoreRanker interface {
	TopScores(n int) []RankedScore
}

// RankedScore is one row of the top-scores response.
type RankedScore struct {
	Address string  `json:"address"`
	Score   float64 `json:"score"`
}

// HealthSource supplies the /healthz body.
type HealthSource interface {
	HealthCheck(ctx context.Context) error
}

// Config holds the server's network and CORS settings.
type Config struct {
	Port           int
	Host           string
	AllowedOrigins string
	ProductionMode bool
}

// Server is the decision core's HTTP surface.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     Config

	db       HealthSource
	state    *statestore.StateStore
	ranker   ScoreRanker
	governor *risk.Governor
	operator *opauth.Manager
	stream   *streamHub

	onWalkForwardReplay func(start, end time.Time) (any, error)
}

// NewServer builds a Server and wires its routes.
func NewServer(cfg Config, db HealthSource, state *statestore.StateStore, ranker ScoreRanker, governor *risk.Governor, operator *opauth.Manager, onWalkForwardReplay func(start, end time.Time) (any, error)) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.AllowedOrigins}
	corsConfig.AllowMethods = []string{"GET", "POST"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:              router,
		config:              cfg,
		db:                  db,
		state:               state,
		ranker:              ranker,
		governor:            governor,
		operator:            operator,
		onWalkForwardReplay: onWalkForwardReplay,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", s.handleMetrics)
	s.router.GET("/ranks/top", s.handleRanksTop)
	s.router.GET("/ws", s.handleWebSocket)

	operatorGroup := s.router.Group("/")
	operatorGroup.Use(opauth.RequireOperator(s.operator))
	operatorGroup.POST("/kill-switch/reset", s.handleKillSwitchReset)
	operatorGroup.POST("/walk-forward/replay", s.handleWalkForwardReplay)

	s.router.POST("/operator/login", s.handleOperatorLogin)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	if err := s.db.HealthCheck(ctx); err != nil {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"scores":            s.state.ScoreCount(),
		"tracked_addresses": s.state.TrackedAddressCount(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	body := fmt.Sprintf(
		"# HELP decision_core_scores_total Number of scores held in the bounded LRU.\n"+
			"# TYPE decision_core_scores_total gauge\n"+
			"decision_core_scores_total %d\n"+
			"# HELP decision_core_tracked_addresses_total Number of tracked addresses held in the bounded LRU.\n"+
			"# TYPE decision_core_tracked_addresses_total gauge\n"+
			"decision_core_tracked_addresses_total %d\n"+
			"# HELP decision_core_kill_switch_active Whether the risk governor's kill switch is latched.\n"+
			"# TYPE decision_core_kill_switch_active gauge\n"+
			"decision_core_kill_switch_active %d\n",
		s.state.ScoreCount(), s.state.TrackedAddressCount(), boolToMetric(s.governor.KillSwitchActive()),
	)
	c.String(http.StatusOK, body)
}

func boolToMetric(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Server) handleRanksTop(c *gin.Context) {
	n := 10
	if raw := c.Query("n"); raw != "" {
		fmt.Sscanf(raw, "%d", &n)
	}
	if n <= 0 {
		n = 10
	}
	c.JSON(http.StatusOK, gin.H{"ranks": s.ranker.TopScores(n)})
}

func (s *Server) handleKillSwitchReset(c *gin.Context) {
	if s.governor.ResetKillSwitch(time.Now()) {
		c.JSON(http.StatusOK, gin.H{"reset": true})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"reset": false, "reason": "cooldown has not elapsed"})
}

func (s *Server) handleWalkForwardReplay(c *gin.Context) {
	if s.onWalkForwardReplay == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "walk-forward replay is not wired"})
		return
	}

	const dateLayout = "2006-01-02"
	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)

	if raw := c.Query("start_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return
		}
		start = parsed
	}
	if raw := c.Query("end_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		end = parsed
	}

	result, err := s.onWalkForwardReplay(start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleOperatorLogin(c *gin.Context) {
	var body struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	token, err := s.operator.Login(body.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "Bearer"})
}

// Start runs the HTTP server until the process receives a shutdown signal.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
