package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Transloadit TransloaditConfig `mapstructure:"transloadit"`
	TwelveLabs  TwelveLabsConfig  `mapstructure:"twelvelabs"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port" validate:"min=1,max=65535"`
	Mode string     `mapstructure:"mode" validate:"oneof=debug release test"`
	CORS CORSConfig `mapstructure:"cors"`
	Auth AuthConfig `mapstructure:"auth"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// AuthConfig controls bearer token checks on the catalog API.
// An empty JWTSecret disables authentication.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`

	// sqlite
	Path string `mapstructure:"path"`

	// postgres
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"min=0"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path
}

type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"omitempty,oneof=s3 r2 s3compatible local"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`

	// LocalPath roots the filesystem store used when Type is local.
	LocalPath string `mapstructure:"local_path"`

	// URLExpiry is the lifetime of signed object URLs.
	URLExpiry    time.Duration `mapstructure:"url_expiry" validate:"min=1s"`
	URLCacheSize int           `mapstructure:"url_cache_size" validate:"min=1"`
}

type TransloaditConfig struct {
	Key        string `mapstructure:"key" validate:"required"`
	Secret     string `mapstructure:"secret" validate:"required"`
	TemplateID string `mapstructure:"template_id" validate:"required"`
	BaseURL    string `mapstructure:"base_url" validate:"url"`

	// Poll selects polling for assembly completion. When false the upload
	// params carry NotifyURL and completion arrives through the webhook.
	// An empty NotifyURL is derived from the request for upload params.
	Poll      bool   `mapstructure:"poll"`
	NotifyURL string `mapstructure:"notify_url" validate:"omitempty,url"`

	SignatureTTL       time.Duration `mapstructure:"signature_ttl" validate:"min=1m"`
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"min=100ms"`
	MaxPollDuration    time.Duration `mapstructure:"max_poll_duration"`
	AuditNotifications bool          `mapstructure:"audit_notifications"`
}

type TwelveLabsConfig struct {
	APIKey          string        `mapstructure:"api_key" validate:"required"`
	BaseURL         string        `mapstructure:"base_url" validate:"url"`
	IndexID         string        `mapstructure:"index_id" validate:"required"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"min=100ms"`
	MaxPollDuration time.Duration `mapstructure:"max_poll_duration"`
	SearchOptions   []string      `mapstructure:"search_options" validate:"min=1,dive,oneof=visual conversation text_in_video logo"`
	SearchThreshold string        `mapstructure:"search_threshold" validate:"oneof=high medium low none"`
	SearchMaxPages  int           `mapstructure:"search_max_pages" validate:"min=1"`
}

type IngestConfig struct {
	// MaxTasks bounds concurrently running batches and assembly polls.
	// GatewayConcurrency bounds the gateway calls they make.
	MaxTasks           int         `mapstructure:"max_tasks" validate:"min=1"`
	GatewayConcurrency int         `mapstructure:"gateway_concurrency" validate:"min=1"`
	Retry              RetryConfig `mapstructure:"retry"`

	// StaleAfter is how long a non-terminal record may go without a status
	// change before the sweep takes it over.
	StaleAfter        time.Duration `mapstructure:"stale_after" validate:"min=1m"`
	SweepSchedule     string        `mapstructure:"sweep_schedule"`
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"`
	VideoPrefix       string        `mapstructure:"video_prefix" validate:"required"`
}

type RetryConfig struct {
	Strategy     string        `mapstructure:"strategy" validate:"oneof=fixed linear exponential"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"min=1"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Jitter       bool          `mapstructure:"jitter"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment specific values use their conventional names.
	v.BindEnv("server.auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("transloadit.key", "TRANSLOADIT_KEY")
	v.BindEnv("transloadit.secret", "TRANSLOADIT_SECRET")
	v.BindEnv("transloadit.template_id", "TRANSLOADIT_TEMPLATE_ID")
	v.BindEnv("transloadit.notify_url", "TRANSLOADIT_NOTIFY_URL")
	v.BindEnv("twelvelabs.api_key", "TWELVE_LABS_API_KEY")
	v.BindEnv("twelvelabs.index_id", "TWELVE_LABS_INDEX_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.auth.issuer", "cattube")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/cattube.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./data/media")
	v.SetDefault("storage.bucket", "cattube")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.url_expiry", 24*time.Hour)
	v.SetDefault("storage.url_cache_size", 4096)

	v.SetDefault("transloadit.base_url", "https://api2.transloadit.com")
	v.SetDefault("transloadit.poll", true)
	v.SetDefault("transloadit.signature_ttl", time.Hour)
	v.SetDefault("transloadit.poll_interval", 5*time.Second)
	v.SetDefault("transloadit.max_poll_duration", 2*time.Hour)
	v.SetDefault("transloadit.audit_notifications", false)

	v.SetDefault("twelvelabs.base_url", "https://api.twelvelabs.io/v1.2")
	v.SetDefault("twelvelabs.timeout", 60*time.Second)
	v.SetDefault("twelvelabs.poll_interval", 10*time.Second)
	v.SetDefault("twelvelabs.max_poll_duration", 6*time.Hour)
	v.SetDefault("twelvelabs.search_options", []string{"visual", "conversation", "text_in_video", "logo"})
	v.SetDefault("twelvelabs.search_threshold", "medium")
	v.SetDefault("twelvelabs.search_max_pages", 10)

	v.SetDefault("ingest.max_tasks", 64)
	v.SetDefault("ingest.gateway_concurrency", 4)
	v.SetDefault("ingest.retry.strategy", "exponential")
	v.SetDefault("ingest.retry.max_attempts", 4)
	v.SetDefault("ingest.retry.initial_delay", time.Second)
	v.SetDefault("ingest.retry.max_delay", 30*time.Second)
	v.SetDefault("ingest.retry.multiplier", 2.0)
	v.SetDefault("ingest.retry.jitter", true)
	v.SetDefault("ingest.stale_after", 30*time.Minute)
	v.SetDefault("ingest.sweep_schedule", "*/10 * * * *")
	v.SetDefault("ingest.reconcile_schedule", "0 * * * *")
	v.SetDefault("ingest.video_prefix", "video/")
}
