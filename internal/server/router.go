package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/soulvan/soulvan-backend/internal/handlers"
)

type RouterConfig struct {
	SubmissionHandler  *handlers.SubmissionHandler
	EventHandler       *handlers.EventHandler
	LeaderboardHandler *handlers.LeaderboardHandler
	CorpusHandler      *handlers.CorpusHandler
	StatsHandler       *handlers.StatsHandler
	AllowedOrigins     []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/submissions", cfg.SubmissionHandler.Create)
		api.GET("/submissions/:id", cfg.SubmissionHandler.Get)
		api.POST("/submissions/:id/advance", cfg.SubmissionHandler.Advance)
		api.POST("/submissions/:id/events", cfg.EventHandler.Record)
		api.GET("/submissions/:id/voters", cfg.SubmissionHandler.Voters)
		api.GET("/submissions/:id/effects", cfg.SubmissionHandler.Effects)
		api.GET("/leaderboard/:kind", cfg.LeaderboardHandler.TopN)
		api.GET("/stats", cfg.StatsHandler.Get)
		api.POST("/corpus/index", cfg.CorpusHandler.Index)
		api.POST("/corpus/remove", cfg.CorpusHandler.Remove)
	}

	return router
}

// SplitOrigins turns a comma separated env value into origin entries.
func SplitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
