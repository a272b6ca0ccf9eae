package app

import (
	"time"

	"github.com/soulvan/soulvan-backend/internal/lifecycle"
	"github.com/soulvan/soulvan-backend/internal/pkg/logger"
	"github.com/soulvan/soulvan-backend/internal/utils"
)

type Config struct {
	Port           string
	AllowedOrigins string

	// Lifecycle
	RetryBudget      int
	RetryDelay       time.Duration
	StageTimeout     time.Duration
	OriginalityFloor float64
	AdvancerTick     time.Duration

	// Threshold rules
	RulesPath string

	// Provenance
	SigningSecret string
	SigningIssuer string

	// Audit
	EmbedServiceURL string
	EmbedTimeout    time.Duration
	AuditTopK       int

	// Storage gateway
	GCSBucket    string
	IPFSPinURL   string
	IPFSPinToken string
	ChainRPCURL  string
	ChainRPCUser string
	ChainRPCPass string

	// Redis
	RedisAddr      string
	RedisChannel   string
	LeaderboardTTL time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:           utils.GetEnv("PORT", "8080", log),
		AllowedOrigins: utils.GetEnv("ALLOWED_ORIGINS", "", log),

		RetryBudget:      utils.GetEnvAsInt("RETRY_BUDGET", 5, log),
		RetryDelay:       time.Duration(utils.GetEnvAsInt("RETRY_DELAY_MS", 500, log)) * time.Millisecond,
		StageTimeout:     time.Duration(utils.GetEnvAsInt("STAGE_TIMEOUT_SECONDS", 120, log)) * time.Second,
		OriginalityFloor: float64(utils.GetEnvAsInt("ORIGINALITY_FLOOR_PERCENT", 20, log)) / 100,
		AdvancerTick:     time.Duration(utils.GetEnvAsInt("ADVANCER_TICK_MS", 1000, log)) * time.Millisecond,

		RulesPath: utils.GetEnv("RULES_PATH", "", log),

		SigningSecret: utils.GetEnv("SIGNING_SECRET", "defaultsecret", log),
		SigningIssuer: utils.GetEnv("SIGNING_ISSUER", "soulvan", log),

		EmbedServiceURL: utils.GetEnv("EMBED_SERVICE_URL", "http://localhost:5005", log),
		EmbedTimeout:    time.Duration(utils.GetEnvAsInt("EMBED_TIMEOUT_SECONDS", 30, log)) * time.Second,
		AuditTopK:       utils.GetEnvAsInt("AUDIT_TOP_K", 5, log),

		GCSBucket:    utils.GetEnv("ARTIFACT_GCS_BUCKET_NAME", "", log),
		IPFSPinURL:   utils.GetEnv("IPFS_PIN_URL", "", log),
		IPFSPinToken: utils.GetEnv("IPFS_PIN_TOKEN", "", log),
		ChainRPCURL:  utils.GetEnv("CHAIN_RPC_URL", "", log),
		ChainRPCUser: utils.GetEnv("CHAIN_RPC_USER", "", log),
		ChainRPCPass: utils.GetEnv("CHAIN_RPC_PASS", "", log),

		RedisAddr:      utils.GetEnv("REDIS_ADDR", "", log),
		RedisChannel:   utils.GetEnv("REDIS_CHANNEL", "submissions", log),
		LeaderboardTTL: time.Duration(utils.GetEnvAsInt("LEADERBOARD_TTL_SECONDS", 30, log)) * time.Second,
	}
}

func (c Config) lifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		RetryBudget:      c.RetryBudget,
		RetryDelay:       c.RetryDelay,
		StageTimeout:     c.StageTimeout,
		OriginalityFloor: c.OriginalityFloor,
	}
}
