package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

const (
	BackendFirebase = "firebase"
	BackendMemory   = "memory"
)

// Tunables are the UI-driven timings and sizes. Zero fields take defaults.
type Tunables struct {
	PageSize         int           `yaml:"page_size"`
	PageStep         int           `yaml:"page_step"`
	ForcedCloseGrace time.Duration `yaml:"forced_close_grace"`
	HiddenDelay      time.Duration `yaml:"hidden_delay"`
	HeaderDebounce   time.Duration `yaml:"header_debounce"`
	ComposeDebounce  time.Duration `yaml:"compose_debounce"`
	ScrollAttempts   int           `yaml:"scroll_attempts"`
	ScrollInterval   time.Duration `yaml:"scroll_interval"`
}

type Firebase struct {
	ProjectID          string `yaml:"project_id"`
	DatabaseURL        string `yaml:"database_url"`
	APIKey             string `yaml:"api_key"`
	ServiceAccountJSON string `yaml:"-"`
	CredentialsFile    string `yaml:"credentials_file"`
}

type Config struct {
	Port         int      `yaml:"port"`
	Backend      string   `yaml:"backend"`
	NoAuth       bool     `yaml:"no_auth"`
	DataDir      string   `yaml:"data_dir"`
	RateLimitRPM int      `yaml:"rate_limit_rpm"`
	LogLevel     string   `yaml:"log_level"`
	JWTSecret    string   `yaml:"-"`
	Seed         bool     `yaml:"seed"`
	Firebase     Firebase `yaml:"firebase"`
	Tunables     Tunables `yaml:"tunables"`
}

func Defaults() Config {
	return Config{
		Port:         8080,
		Backend:      BackendMemory,
		RateLimitRPM: 30,
		LogLevel:     "info",
		Seed:         true,
		Tunables: Tunables{
			PageSize:         5,
			PageStep:         5,
			ForcedCloseGrace: 5 * time.Second,
			HiddenDelay:      5 * time.Second,
			HeaderDebounce:   300 * time.Millisecond,
			ComposeDebounce:  200 * time.Millisecond,
			ScrollAttempts:   20,
			ScrollInterval:   300 * time.Millisecond,
		},
	}
}

// Addr is the listen address.
func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Load builds the effective config: defaults, then the YAML file, then the
// environment (after .env), then command-line flags.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("chatspace", pflag.ContinueOnError)
	cfgFile := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	port := fs.Int("port", 0, "HTTP listen port")
	backend := fs.String("backend", "", "backend: firebase or memory")
	noAuth := fs.Bool("no-auth", false, "development mode without token verification")
	dataDir := fs.String("data-dir", "", "directory for uploads")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	seed := fs.Bool("seed", true, "seed demo data into an empty memory backend")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if *cfgFile != "" {
		if err := cfg.loadFile(*cfgFile); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("backend") {
		cfg.Backend = *backend
	}
	if fs.Changed("no-auth") {
		cfg.NoAuth = *noAuth
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = *dataDir
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if fs.Changed("seed") {
		cfg.Seed = *seed
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = p
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("NO_AUTH"); v != "" {
		c.NoAuth = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPM: %w", err)
		}
		c.RateLimitRPM = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("FIREBASE_PROJECT_ID"); v != "" {
		c.Firebase.ProjectID = v
	}
	if v := os.Getenv("FIREBASE_DATABASE_URL"); v != "" {
		c.Firebase.DatabaseURL = v
	}
	if v := os.Getenv("FIREBASE_API_KEY"); v != "" {
		c.Firebase.APIKey = v
	}
	if v := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); v != "" {
		c.Firebase.ServiceAccountJSON = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.Firebase.CredentialsFile = v
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendFirebase:
		if c.Firebase.ProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID not set")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("invalid rate limit %d", c.RateLimitRPM)
	}
	return nil
}

func DefaultDataDir() string {
	dataDir := "/data"
	if _, err := os.Stat(dataDir); err != nil {
		dataDir = filepath.Join(".", "data")
	}
	return dataDir
}

// UploadsDir holds avatar files.
func (c Config) UploadsDir() string { return filepath.Join(c.DataDir, "uploads") }

func EnsureDir(dir string) { _ = os.MkdirAll(dir, 0o755) }

// NewFirebaseApp initializes the Admin SDK from service-account JSON, a
// credentials file, or emulator hosts.
func NewFirebaseApp(ctx context.Context, fb Firebase) (*firebase.App, error) {
	if fb.ProjectID == "" {
		return nil, errors.New("FIREBASE_PROJECT_ID not set")
	}

	var opts []option.ClientOption
	if fb.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(fb.ServiceAccountJSON)))
	} else if fb.CredentialsFile != "" {
		if _, err := os.Stat(fb.CredentialsFile); err != nil {
			return nil, fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS %q not readable: %w", fb.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(fb.CredentialsFile))
	} else if os.Getenv("FIREBASE_AUTH_EMULATOR_HOST") == "" && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		return nil, errors.New("missing Firebase credentials: set FIREBASE_SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS, or use the emulators / BACKEND=memory")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   fb.ProjectID,
		DatabaseURL: fb.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return app, nil
}
