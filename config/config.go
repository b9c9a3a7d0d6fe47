package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Unterstützte Backends für den DocumentStore.
const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`

	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`

	// Verzeichnis der eingebetteten Badger-Datenbank (nur STORE_BACKEND=badger)
	BadgerDir string `envconfig:"BADGER_DIR" default:"data/store"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`
	// Leer = API ohne Authentifizierung
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Wöchentlicher Lauf, Montag 06:00
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 6 * * 1"`

	SourcesFile string `envconfig:"SOURCES_FILE" default:"config/sources.yaml"`
	DataDir     string `envconfig:"DATA_DIR" default:"data"`

	// HTTP-Verhalten des Fetchers
	UserAgent       string        `envconfig:"USER_AGENT" default:"docdl/1.0 (+https://github.com/docdl)"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
	RateLimitRPS    float64       `envconfig:"RATE_LIMIT_RPS" default:"5.0"`
	BackoffStatuses []int         `envconfig:"BACKOFF_STATUSES" default:"429,503"`

	// Pipeline
	DedupeEnabled bool          `envconfig:"DEDUPE_ENABLED" default:"true"`
	Workers       int           `envconfig:"WORKERS" default:"1"`
	RunTimeout    time.Duration `envconfig:"RUN_TIMEOUT" default:"0"`
	NormalizeText bool          `envconfig:"NORMALIZE_TEXT" default:"true"`

	// OpenAI-kompatibler Endpunkt für die Zusammenfassung
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel    string `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
	EnrichMaxChars int    `envconfig:"ENRICH_MAX_CHARS" default:"200000"`

	// Optionaler S3-Spiegel für die Roh-PDFs. Leerer Bucket = deaktiviert.
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION"`
	S3Bucket string `envconfig:"S3_BUCKET"`

	// Anzahl der Backups, die cmd/backup im Bucket behält
	KeepBackups int `envconfig:"KEEP_BACKUPS" default:"4"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// S3Enabled meldet, ob der S3-Spiegel konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// Validate prüft die Abhängigkeiten zwischen einzelnen Werten, die envconfig
// allein nicht ausdrücken kann.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DBHost == "" || c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("postgres backend requires DB_HOST, DB_USER and DB_NAME")
		}
	case BackendBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("badger backend requires BADGER_DIR")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.UserAgent == "" {
		return fmt.Errorf("USER_AGENT must not be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be >= 1, got %d", c.Workers)
	}
	if c.S3Enabled() && (c.S3URL == "" || c.S3Key == "" || c.S3Secret == "" || c.S3Region == "") {
		return fmt.Errorf("S3_BUCKET is set but S3_URL, S3_KEY, S3_SECRET or S3_REGION is missing")
	}
	return nil
}

// ValidatePipeline prüft zusätzlich die Werte, die nur ein Ingestion-Lauf
// braucht. cmd/backup kommt ohne sie aus.
func (c *Config) ValidatePipeline() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
