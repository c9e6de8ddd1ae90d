// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the engine reads at startup. Every field except
// DelegatedUser has a default, so setting DELEGATED_USER alone is enough for
// the simple case (a single delegated mailbox, local sqlite file).
type Config struct {
	DelegatedUser string
	DatabasePath  string

	EmbeddingModel     string
	EmbeddingBatchSize int
	EmbeddingMinScore  float64

	AttachmentWorkers int
	AttachmentCLIPath string

	WMStaleThresholdDays      int
	WMUrgencyEscalationDays   int
	WMObservationRetainDays   int
	WMReplyNudgeDays          int
	WMDecisionNudgeDays       int
	AlertDefaultCooldown      time.Duration
	TriggerOutboxDir          string
	LogLevel                  string

	FolderPrefix    string
	CleanupStrategy string // low|medium|aggressive
	TriageMode      string // categories|folder
	PollInterval    time.Duration

	WMEngineInterval    time.Duration
	GraphRequestTimeout time.Duration

	FollowupNDays      int
	EnableWeeklyDigest bool
	DigestDay          string // e.g. "Friday"
	DigestTimeLocal    string // "HH:MM"
	DefaultTimezone    string

	// Model identifiers: passed through to the LLM collaborator, which
	// resolves them to concrete deployments. No semantics live here.
	ModelName       string
	WMModel         string
	AlertModel      string
	RuleParserModel string
	FactsModel      string

	VIPSenders []string
}

// Load reads configuration from the environment. DELEGATED_USER is the
// only required setting; everything else has a sane default.
func Load() (*Config, error) {
	user := os.Getenv("DELEGATED_USER")
	if user == "" {
		return nil, fmt.Errorf("config: DELEGATED_USER environment variable must be set")
	}

	cfg := &Config{
		DelegatedUser:      user,
		DatabasePath:       resolveDatabasePath(),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "BAAI/bge-m3"),
		EmbeddingBatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", 8),
		EmbeddingMinScore:  getEnvFloat("EMBEDDING_MIN_SCORE", 0.25),
		AttachmentWorkers:  getEnvInt("ATTACHMENT_WORKERS", 5),
		AttachmentCLIPath:  getEnv("DOCUMENTS_CLI_PATH", "aech-cli-documents"),

		WMStaleThresholdDays:    getEnvInt("WM_STALE_THRESHOLD_DAYS", 3),
		WMUrgencyEscalationDays: getEnvInt("WM_URGENCY_ESCALATION_DAYS", 2),
		WMObservationRetainDays: getEnvInt("WM_OBSERVATION_RETENTION_DAYS", 30),
		WMReplyNudgeDays:        getEnvInt("WM_REPLY_NUDGE_DAYS", 2),
		WMDecisionNudgeDays:     getEnvInt("WM_DECISION_NUDGE_DAYS", 3),
		AlertDefaultCooldown:    time.Duration(getEnvInt("ALERT_DEFAULT_COOLDOWN_MINUTES", 30)) * time.Minute,
		TriggerOutboxDir:        resolveOutboxDir(),
		LogLevel:                getEnv("LOG_LEVEL", "info"),

		FolderPrefix:    getEnv("FOLDER_PREFIX", "aa_"),
		CleanupStrategy: getEnv("CLEANUP_STRATEGY", "medium"),
		TriageMode:      getEnv("TRIAGE_MODE", "categories"),
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL", 5)) * time.Second,

		WMEngineInterval:    time.Duration(getEnvInt("WM_ENGINE_INTERVAL_MINUTES", 15)) * time.Minute,
		GraphRequestTimeout: time.Duration(getEnvInt("GRAPH_REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,

		FollowupNDays:      getEnvInt("FOLLOWUP_N_DAYS", 2),
		EnableWeeklyDigest: getEnv("ENABLE_WEEKLY_DIGEST", "false") == "true",
		DigestDay:          getEnv("DIGEST_DAY", "Friday"),
		DigestTimeLocal:    getEnv("DIGEST_TIME_LOCAL", "16:00"),
		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "UTC"),

		ModelName:       getEnv("MODEL_NAME", "default"),
		WMModel:         getEnv("WM_MODEL", "default"),
		AlertModel:      getEnv("ALERT_MODEL", "default"),
		RuleParserModel: getEnv("RULE_PARSER_MODEL", "default"),
		FactsModel:      getEnv("FACTS_MODEL", "default"),

		VIPSenders: getEnvList("VIP_SENDERS"),
	}

	return cfg, nil
}

// resolveDatabasePath picks the sqlite file location: an explicit
// INBOX_DB_PATH wins, then a file under INBOX_STATE_DIR, then one under
// AECH_USER_DIR's state subdirectory, then the working directory.
func resolveDatabasePath() string {
	if p := os.Getenv("INBOX_DB_PATH"); p != "" {
		return p
	}
	if d := os.Getenv("INBOX_STATE_DIR"); d != "" {
		return filepath.Join(d, "inbox.db")
	}
	if d := os.Getenv("AECH_USER_DIR"); d != "" {
		return filepath.Join(d, "state", "inbox.db")
	}
	return "./inbox.db"
}

// resolveOutboxDir picks the trigger outbox directory, following the same
// state-directory fallback chain as the database path.
func resolveOutboxDir() string {
	if d := os.Getenv("TRIGGER_OUTBOX_DIR"); d != "" {
		return d
	}
	if d := os.Getenv("INBOX_STATE_DIR"); d != "" {
		return filepath.Join(d, "triggers")
	}
	if d := os.Getenv("AECH_USER_DIR"); d != "" {
		return filepath.Join(d, "state", "triggers")
	}
	return "./triggers"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvList splits a comma-separated environment variable into a
// trimmed, non-empty slice of values.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
