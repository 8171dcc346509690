package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ozcount/scrutiny-engine/internal/db"
	"github.com/ozcount/scrutiny-engine/internal/runner"
	"github.com/ozcount/scrutiny-engine/pkg/models"
)

type APIHandler struct {
	dbStore  *db.PostgresStore
	contests *runner.ContestRunner
	wsHub    *Hub
}

func SetupRouter(dbStore *db.PostgresStore, contests *runner.ContestRunner, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://results.example.org
	// Development: leave empty for *
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
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:  dbStore,
		contests: contests,
		wsHub:    wsHub,
	}

	// ── Public endpoints (no auth) ─────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/contests", handler.handleListContests)
		pub.GET("/contests/:slug", handler.handleGetContest)
		pub.GET("/contests/:slug/rounds", handler.handleGetRounds)
		pub.GET("/progress", handler.handleProgress)
		pub.GET("/archive", handler.handleArchive)
	}

	// ── Protected endpoints (require bearer token if API_AUTH_TOKEN set) ──
	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	// Recounts re-parse the full ballot file — keep the door narrow.
	auth.Use(NewRateLimiter(10, 2).Middleware())
	{
		auth.POST("/contests/:slug/recount", handler.handleRecount)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "STV Scrutiny Engine",
		"dbConnected": h.dbStore != nil,
		"progress":    h.contests.Progress(),
	})
}

// handleListContests returns every completed contest without its round
// detail; clients fetch rounds per contest.
func (h *APIHandler) handleListContests(c *gin.Context) {
	results := h.contests.Results()
	summaries := make([]models.ContestResult, len(results))
	for i, res := range results {
		res.Rounds = nil
		summaries[i] = res
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries, "count": len(summaries)})
}

func (h *APIHandler) handleGetContest(c *gin.Context) {
	result, ok := h.contests.Result(c.Param("slug"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No completed count for contest", "slug": c.Param("slug")})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) handleGetRounds(c *gin.Context) {
	result, ok := h.contests.Result(c.Param("slug"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No completed count for contest", "slug": c.Param("slug")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slug": result.Slug, "rounds": result.Rounds})
}

func (h *APIHandler) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.contests.Progress())
}

// handleArchive returns the latest persisted result per contest from
// PostgreSQL, surviving engine restarts.
func (h *APIHandler) handleArchive(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}
	results, err := h.dbStore.LoadContestResults(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load archived results", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results, "count": len(results)})
}

// handleRecount re-runs one contest in the background.
// POST /api/v1/contests/:slug/recount
func (h *APIHandler) handleRecount(c *gin.Context) {
	slug := c.Param("slug")
	go func() {
		if err := h.contests.Recount(context.Background(), slug); err != nil {
			log.Printf("[API] Recount of %s failed: %v", slug, err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "recount_started", "slug": slug})
}

// BroadcastRoundAlert adapts the WebSocket hub into the runner's alert
// callback: every completed round is pushed to stream subscribers.
func BroadcastRoundAlert(wsHub *Hub) func(models.RoundAlert) {
	return func(alert models.RoundAlert) {
		payload := gin.H{
			"type":  "count_round",
			"alert": alert,
		}
		alertBytes, _ := json.Marshal(payload)
		wsHub.Broadcast(alertBytes)
	}
}
