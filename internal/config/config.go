package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

const envPrefix = "INVENTORY_"

type Config struct {
	Port         string `json:"port" validate:"required,numeric"`
	DSLDir       string `json:"dslDir"`       // empty = embedded schema
	ReferenceDir string `json:"referenceDir"` // empty = embedded seeds
	DBURL        string `json:"dbUrl"`        // empty = in-memory
	AutoMigrate  bool   `json:"autoMigrate"`
	Seed         bool   `json:"seed"`

	LogLevel      string `json:"logLevel" validate:"required,oneof=debug info warn error"`
	LogFormat     string `json:"logFormat" validate:"required,oneof=json console"`
	LogFile       string `json:"logFile"` // empty = stdout only
	LogMaxSizeMB  int    `json:"logMaxSizeMB" validate:"min=0"`
	LogMaxBackups int    `json:"logMaxBackups" validate:"min=0"`
	LogMaxAgeDays int    `json:"logMaxAgeDays" validate:"min=0"`

	JWTSecret     string   `json:"jwtSecret"` // empty = dev mode (X-Role header)
	SuperuserRole string   `json:"superuserRole" validate:"required"`
	DefaultRole   string   `json:"defaultRole" validate:"required"`
	CORSOrigins   []string `json:"corsOrigins" validate:"omitempty,dive,eq=*|url"`

	KafkaBrokers []string `json:"kafkaBrokers" validate:"omitempty,dive,hostname_port"`
	KafkaTopic   string   `json:"kafkaTopic" validate:"required_with=KafkaBrokers"`

	Metrics         bool          `json:"metrics"`
	ShutdownTimeout time.Duration `json:"-" validate:"min=0"` // JSON "shutdownTimeout": "15s"
}

func def() Config {
	return Config{
		Port:            "8080",
		Seed:            true,
		LogLevel:        "info",
		LogFormat:       "json",
		LogMaxSizeMB:    100,
		LogMaxBackups:   5,
		LogMaxAgeDays:   28,
		SuperuserRole:   "admin",
		DefaultRole:     "viewer",
		CORSOrigins:     []string{"*"},
		KafkaTopic:      "inventory.changes",
		Metrics:         true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// UnmarshalJSON accepts shutdownTimeout as a duration string ("15s").
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	if err := json.Unmarshal(b, (*plain)(c)); err != nil {
		return err
	}
	var aux struct {
		ShutdownTimeout string `json:"shutdownTimeout"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.ShutdownTimeout != "" {
		d, err := time.ParseDuration(aux.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("shutdownTimeout: %w", err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, c)
}

type lookupFunc func(string) (string, bool)

func getenv(env lookupFunc, k, fallback string) string {
	if v, ok := env(envPrefix + k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(env lookupFunc, k string, fallback bool) bool {
	if v, ok := env(envPrefix + k); ok {
		if b, ok := parseBool(v); ok {
			return b
		}
	}
	return fallback
}

func getenvList(env lookupFunc, k string, fallback []string) []string {
	if v, ok := env(envPrefix + k); ok && strings.TrimSpace(v) != "" {
		return splitList(v)
	}
	return fallback
}

func parseBool(v string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads the JSON file named by -config (or INVENTORY_CONFIG, default
// config.json when present), then applies INVENTORY_* variables and finally
// the command line flags.
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv, io.Discard)
}

func load(args []string, env lookupFunc, out io.Writer) (Config, error) {
	cfg := def()

	jsonPath := getenv(env, "CONFIG", "config.json")
	// -config has to be known before the other flags get their defaults
	for i, a := range args {
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "config" {
			continue
		}
		if hasVal {
			jsonPath = val
		} else if i+1 < len(args) {
			jsonPath = args[i+1]
		}
	}
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if err := loadJSON(jsonPath, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", jsonPath, err)
		}
	}

	cfg.Port = getenv(env, "PORT", cfg.Port)
	cfg.DSLDir = getenv(env, "DSL_DIR", cfg.DSLDir)
	cfg.ReferenceDir = getenv(env, "REFERENCE_DIR", cfg.ReferenceDir)
	cfg.DBURL = getenv(env, "DB_URL", cfg.DBURL)
	cfg.AutoMigrate = getenvBool(env, "AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.Seed = getenvBool(env, "SEED", cfg.Seed)
	cfg.LogLevel = getenv(env, "LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv(env, "LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = getenv(env, "LOG_FILE", cfg.LogFile)
	cfg.JWTSecret = getenv(env, "JWT_SECRET", cfg.JWTSecret)
	cfg.SuperuserRole = getenv(env, "SUPERUSER_ROLE", cfg.SuperuserRole)
	cfg.DefaultRole = getenv(env, "DEFAULT_ROLE", cfg.DefaultRole)
	cfg.CORSOrigins = getenvList(env, "CORS_ORIGINS", cfg.CORSOrigins)
	cfg.KafkaBrokers = getenvList(env, "KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = getenv(env, "KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.Metrics = getenvBool(env, "METRICS", cfg.Metrics)
	if v := getenv(env, "SHUTDOWN_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", envPrefix, err)
		}
		cfg.ShutdownTimeout = d
	}

	fs := flag.NewFlagSet("inventory", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.String("config", jsonPath, "Path to config JSON")
	port := fs.String("port", cfg.Port, "HTTP port")
	dslDir := fs.String("dsl", cfg.DSLDir, "DSL directory (empty = embedded)")
	refDir := fs.String("reference", cfg.ReferenceDir, "Reference seed directory (empty = embedded)")
	db := fs.String("db", cfg.DBURL, "Postgres URL (empty = in-memory)")
	auto := fs.String("auto-migrate", strconv.FormatBool(cfg.AutoMigrate), "Apply generated DDL on start (true/false)")
	seed := fs.String("seed", strconv.FormatBool(cfg.Seed), "Load reference seed data on start (true/false)")
	level := fs.String("log-level", cfg.LogLevel, "debug|info|warn|error")
	format := fs.String("log-format", cfg.LogFormat, "json|console")
	logFile := fs.String("log-file", cfg.LogFile, "Rotated JSON log file (empty = stdout only)")
	secret := fs.String("jwt-secret", cfg.JWTSecret, "HS256 secret (empty = dev mode)")
	superuser := fs.String("superuser-role", cfg.SuperuserRole, "Role allowed everything")
	defRole := fs.String("default-role", cfg.DefaultRole, "Role used in dev mode without X-Role")
	cors := fs.String("cors-origins", strings.Join(cfg.CORSOrigins, ","), "Allowed CORS origins, comma separated")
	brokers := fs.String("kafka-brokers", strings.Join(cfg.KafkaBrokers, ","), "Kafka brokers, comma separated (empty = log events)")
	topic := fs.String("kafka-topic", cfg.KafkaTopic, "Kafka topic for change events")
	metrics := fs.String("metrics", strconv.FormatBool(cfg.Metrics), "Expose /metrics (true/false)")
	shutdown := fs.Duration("shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.DSLDir = strings.TrimSpace(*dslDir)
	cfg.ReferenceDir = strings.TrimSpace(*refDir)
	cfg.DBURL = strings.TrimSpace(*db)
	if b, ok := parseBool(*auto); ok {
		cfg.AutoMigrate = b
	}
	if b, ok := parseBool(*seed); ok {
		cfg.Seed = b
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(*level))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(*format))
	cfg.LogFile = strings.TrimSpace(*logFile)
	cfg.JWTSecret = *secret
	cfg.SuperuserRole = strings.TrimSpace(*superuser)
	cfg.DefaultRole = strings.TrimSpace(*defRole)
	cfg.CORSOrigins = splitList(*cors)
	cfg.KafkaBrokers = splitList(*brokers)
	cfg.KafkaTopic = strings.TrimSpace(*topic)
	if b, ok := parseBool(*metrics); ok {
		cfg.Metrics = b
	}
	cfg.ShutdownTimeout = *shutdown

	return cfg, cfg.Validate()
}

// Validate checks that all fields in Config are valid
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed for Config: %w", err)
	}
	if c.AutoMigrate && c.DBURL == "" {
		return fmt.Errorf("auto-migrate requires a database url")
	}
	if strings.EqualFold(c.SuperuserRole, c.DefaultRole) && c.JWTSecret == "" {
		return fmt.Errorf("default role %q must not be the superuser role in dev mode", c.DefaultRole)
	}
	return nil
}
