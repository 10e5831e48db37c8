package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Device registry backends.
const (
	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	TTLSeconds      int
}

type APNSConfig struct {
	Enabled  bool
	KeyID    string
	TeamID   string
	BundleID string
	// KeyPath points at the .p8 signing key.
	KeyPath string
	Sandbox bool
}

type FCMConfig struct {
	Enabled bool
	Icon    string
}

type StoreConfig struct {
	Backend    string
	SQLitePath string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Vapid      VapidConfig
	APNS       APNSConfig
	FCM        FCMConfig
	Store      StoreConfig

	// MetricsPath is where Prometheus metrics are served. Empty disables it.
	MetricsPath string
	// PushAPIKey guards the direct push endpoint. Empty disables the check.
	PushAPIKey string

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// envOverrides reads environment variables into cfg fields. Each setter runs
// only when its variable is set and non-empty.
type envOverrides struct {
	logger *slog.Logger
}

func (e envOverrides) str(key string, set func(string)) {
	if val := os.Getenv(key); val != "" {
		e.logger.Debug("Overriding config value", "key", key, "source", "env")
		set(val)
	}
}

func (e envOverrides) integer(key string, set func(int)) {
	e.str(key, func(val string) {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.logger.Warn("Ignoring non-integer env value", "key", key, "value", val)
			return
		}
		set(n)
	})
}

func (e envOverrides) boolean(key string, set func(bool)) {
	e.str(key, func(val string) {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.logger.Warn("Ignoring non-boolean env value", "key", key, "value", val)
			return
		}
		set(b)
	})
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")
	env := envOverrides{logger: logger}

	env.str("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	env.str("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	env.str("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	env.str("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	env.integer("NUM_PIPELINE_WORKERS", func(n int) {
		if n > 0 {
			cfg.NumPipelineWorkers = n
		}
	})

	// A Redis address implies the cache is wanted; REDIS_ENABLED can still veto it.
	env.str("REDIS_ADDR", func(v string) {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	})
	env.str("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	env.integer("REDIS_DB", func(n int) { cfg.Redis.DB = n })
	env.boolean("REDIS_ENABLED", func(b bool) { cfg.Redis.Enabled = b })

	env.str("VAPID_PUBLIC_KEY", func(v string) { cfg.Vapid.PublicKey = v })
	env.str("VAPID_PRIVATE_KEY", func(v string) { cfg.Vapid.PrivateKey = v })
	env.str("VAPID_SUB_EMAIL", func(v string) { cfg.Vapid.SubscriberEmail = v })

	env.str("APNS_KEY_PATH", func(v string) {
		cfg.APNS.KeyPath = v
		cfg.APNS.Enabled = true
	})
	env.str("APNS_KEY_ID", func(v string) { cfg.APNS.KeyID = v })
	env.str("APNS_TEAM_ID", func(v string) { cfg.APNS.TeamID = v })
	env.str("APNS_BUNDLE_ID", func(v string) { cfg.APNS.BundleID = v })
	env.boolean("APNS_SANDBOX", func(b bool) { cfg.APNS.Sandbox = b })

	env.str("DEVICE_STORE", func(v string) { cfg.Store.Backend = v })
	env.str("SQLITE_PATH", func(v string) { cfg.Store.SQLitePath = v })
	env.str("PUSH_API_KEY", func(v string) { cfg.PushAPIKey = v })

	env.str("CORS_ALLOWED_ORIGINS", func(v string) {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = origins
	})

	// Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = StoreFirestore
	case StoreFirestore:
	case StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			return nil, fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	default:
		return nil, fmt.Errorf("unknown device store backend %q", cfg.Store.Backend)
	}
	if cfg.APNS.Enabled && (cfg.APNS.KeyPath == "" || cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "") {
		return nil, fmt.Errorf("apns requires key_path, key_id, team_id and bundle_id")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}

	if cfg.PubsubConsumerConfig == nil {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
