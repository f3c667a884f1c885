package api

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/mixsim/internal/db"
	"github.com/rawblock/mixsim/internal/sim"
	"github.com/rawblock/mixsim/pkg/models"
)

type APIHandler struct {
	dbStore       *db.PostgresStore
	runner        *sim.Runner
	wsHub         *Hub
	defaultOutDir string
}

func SetupRouter(dbStore *db.PostgresStore, runner *sim.Runner, wsHub *Hub, defaultOutDir string) *gin.Engine {
	r := gin.Default()

	// CORS — configurable via ALLOWED_ORIGINS env var; empty allows all,
	// which is fine for a local measurement dashboard.
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:       dbStore,
		runner:        runner,
		wsHub:         wsHub,
		defaultOutDir: defaultOutDir,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/sweeps/progress", handler.handleSweepProgress)
		pub.GET("/paramsets", handler.handleListParamSets)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// A sweep can run for hours; starting one is cheap, but a request
	// storm would still queue work, so keep the limiter on.
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/sweeps", handler.handleStartSweep)
		auth.GET("/sweeps/:id/stats", handler.handleSweepStats)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"dbConnected":  h.dbStore != nil,
		"sweepRunning": h.runner.Progress().IsRunning,
	})
}

// handleListParamSets enumerates the sweep grid for an experiment/session/
// queue-type triple without running anything.
func (h *APIHandler) handleListParamSets(c *gin.Context) {
	exp, session, queueType, ok := parseGridParams(c)
	if !ok {
		return
	}
	paramsets, err := models.NewAllParamSets(exp, session, queueType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(paramsets), "paramsets": paramsets})
}

type startSweepRequest struct {
	Experiment   string `json:"experiment" binding:"required"`
	Session      string `json:"session" binding:"required"`
	QueueType    string `json:"queueType" binding:"required"`
	OutDir       string `json:"outDir"`
	FromParamSet uint16 `json:"fromParamset"`
	ToParamSet   uint16 `json:"toParamset"`
	SkipCoeff    bool   `json:"skipCoeff"`
}

func (h *APIHandler) handleStartSweep(c *gin.Context) {
	var req startSweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	exp, err := models.ParseExperimentID(req.Experiment)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := models.ParseSessionID(req.Session)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	queueType, err := models.ParseQueueType(req.QueueType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = h.defaultOutDir
	}

	// The sweep outlives this request, so it must not inherit the request
	// context, which is cancelled as soon as the handler returns.
	sweepID, err := h.runner.StartSweep(context.Background(), sim.SweepConfig{
		Experiment:   exp,
		Session:      session,
		QueueType:    queueType,
		OutDir:       outDir,
		FromParamSet: req.FromParamSet,
		ToParamSet:   req.ToParamSet,
		SkipCoeff:    req.SkipCoeff,
	})
	if err != nil {
		status := http.StatusBadRequest
		if strings.Contains(err.Error(), "already in progress") {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sweepId": sweepID})
}

func (h *APIHandler) handleSweepProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Progress())
}

func (h *APIHandler) handleSweepStats(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No database configured; read the CSV tree under the output directory instead",
		})
		return
	}
	results, err := h.dbStore.GetParamSetStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func parseGridParams(c *gin.Context) (models.ExperimentID, models.SessionID, models.QueueType, bool) {
	exp, err := models.ParseExperimentID(c.DefaultQuery("experiment", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, 0, false
	}
	session, err := models.ParseSessionID(c.DefaultQuery("session", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, 0, false
	}
	queueType, err := models.ParseQueueType(c.DefaultQuery("queue", "NonMix"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, 0, 0, false
	}
	return exp, session, queueType, true
}
