// Package config loads the service configuration. Values are layered, each
// source overriding the previous one: built-in defaults, a JSON file named by
// the CONFIG variable (or -c flag), environment variables and finally
// command-line flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
)

// Config holds every tunable of the service.
type Config struct {
	RunAddr               string        `env:"SERVER_ADDRESS" validate:"hostname_port"`
	GRPCRunAddr           string        `env:"GRPC_SERVER_ADDRESS" validate:"omitempty,hostname_port"`
	LogLevel              string        `env:"LOG_LEVEL" validate:"loglevel"`
	DBFileName            string        `env:"FILE_STORAGE_PATH" validate:"filepath"`
	DatabaseDSN           string        `env:"DATABASE_DSN"`
	DBConnectionTimeout   time.Duration `env:"DB_CONNECTION_TIMEOUT"`
	MigrationsDir         string        `env:"MIGRATIONS_DIR"`
	TokenSigningSecretKey string        `env:"TOKEN_SIGNING_SECRET_KEY" validate:"required,base64url"`
	TokenTTL              time.Duration `env:"TOKEN_TTL" validate:"gt=0"`
	TokenCacheSize        int           `env:"TOKEN_CACHE_SIZE" validate:"gte=0"`
	TokenCacheTTL         time.Duration `env:"TOKEN_CACHE_TTL" validate:"gt=0"`
	TokenPurgeInterval    time.Duration `env:"TOKEN_PURGE_INTERVAL" validate:"gt=0"`
	RateLimit             string        `env:"RATE_LIMIT" validate:"omitempty,ratelimit"`
	TrustedSubnet         string        `env:"TRUSTED_SUBNET" validate:"omitempty,cidr"`
	TrustProxyHeaders     bool          `env:"TRUST_PROXY_HEADERS"`
	LegacyUpdateErrors    bool          `env:"LEGACY_UPDATE_ERRORS"`
	ConfigFile            string        `env:"CONFIG"`
}

// jsonConfig mirrors Config for the JSON file. Pointers tell "absent" apart
// from zero values; durations are written as "10s", "24h", ...
type jsonConfig struct {
	RunAddr               *string `json:"server_address"`
	GRPCRunAddr           *string `json:"grpc_server_address"`
	LogLevel              *string `json:"log_level"`
	DBFileName            *string `json:"file_storage_path"`
	DatabaseDSN           *string `json:"database_dsn"`
	DBConnectionTimeout   *string `json:"db_connection_timeout"`
	MigrationsDir         *string `json:"migrations_dir"`
	TokenSigningSecretKey *string `json:"token_signing_secret_key"`
	TokenTTL              *string `json:"token_ttl"`
	TokenCacheSize        *int    `json:"token_cache_size"`
	TokenCacheTTL         *string `json:"token_cache_ttl"`
	TokenPurgeInterval    *string `json:"token_purge_interval"`
	RateLimit             *string `json:"rate_limit"`
	TrustedSubnet         *string `json:"trusted_subnet"`
	TrustProxyHeaders     *bool   `json:"trust_proxy_headers"`
	LegacyUpdateErrors    *bool   `json:"legacy_update_errors"`
}

// DefaultTokenSigningSecretKey signs tokens when no key is configured. It is
// public, so it is only fit for development.
const DefaultTokenSigningSecretKey = "dGFza3RyYWNrZXItZGV2ZWxvcG1lbnQtc2lnbmluZy1rZXktMzJi"

var defaultConfig = Config{
	RunAddr:               ":8080",
	GRPCRunAddr:           "",
	LogLevel:              "info",
	DBFileName:            "",
	DatabaseDSN:           "",
	DBConnectionTimeout:   10 * time.Second,
	MigrationsDir:         "cmd/tasktracker/migrations",
	TokenSigningSecretKey: DefaultTokenSigningSecretKey,
	TokenTTL:              7 * 24 * time.Hour,
	TokenCacheSize:        1024,
	TokenCacheTTL:         time.Minute,
	TokenPurgeInterval:    time.Hour,
	RateLimit:             "",
	TrustedSubnet:         "",
	TrustProxyHeaders:     false,
	LegacyUpdateErrors:    false,
}

// UsesDefaultSigningKey reports whether tokens would be signed with
// DefaultTokenSigningSecretKey.
func (c *Config) UsesDefaultSigningKey() bool {
	return c.TokenSigningSecretKey == DefaultTokenSigningSecretKey
}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

// WithDisableFlagsParsing skips command-line parsing, which is what tests and
// embedded uses want.
func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// New builds a validated Config from all sources.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	err := godotenv.Load()
	if err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	values := &Config{}
	applyDefaults(values, defaultConfig)

	var flagValues *flagSet
	if !options.disableFlagsParsing {
		flagValues, err = parseFlags(os.Args[1:])
		if err != nil {
			return nil, err
		}
	}

	configFile := os.Getenv("CONFIG")
	if flagValues != nil && flagValues.set["c"] {
		configFile = flagValues.values.ConfigFile
	}
	if configFile != "" {
		if err := values.loadJSON(configFile); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(values); err != nil {
		return nil, err
	}

	if flagValues != nil {
		flagValues.applyTo(values)
	}

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}

func applyDefaults(values *Config, defaults Config) {
	*values = defaults
}

func (c *Config) loadJSON(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `os.ReadFile()` calling: %w", err)
	}

	var fromFile jsonConfig
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `json.Unmarshal()` calling: %w", err)
	}

	setString(&c.RunAddr, fromFile.RunAddr)
	setString(&c.GRPCRunAddr, fromFile.GRPCRunAddr)
	setString(&c.LogLevel, fromFile.LogLevel)
	setString(&c.DBFileName, fromFile.DBFileName)
	setString(&c.DatabaseDSN, fromFile.DatabaseDSN)
	setString(&c.MigrationsDir, fromFile.MigrationsDir)
	setString(&c.TokenSigningSecretKey, fromFile.TokenSigningSecretKey)
	setString(&c.RateLimit, fromFile.RateLimit)
	setString(&c.TrustedSubnet, fromFile.TrustedSubnet)

	if fromFile.TokenCacheSize != nil {
		c.TokenCacheSize = *fromFile.TokenCacheSize
	}
	if fromFile.TrustProxyHeaders != nil {
		c.TrustProxyHeaders = *fromFile.TrustProxyHeaders
	}
	if fromFile.LegacyUpdateErrors != nil {
		c.LegacyUpdateErrors = *fromFile.LegacyUpdateErrors
	}

	durations := []struct {
		target *time.Duration
		value  *string
	}{
		{&c.DBConnectionTimeout, fromFile.DBConnectionTimeout},
		{&c.TokenTTL, fromFile.TokenTTL},
		{&c.TokenCacheTTL, fromFile.TokenCacheTTL},
		{&c.TokenPurgeInterval, fromFile.TokenPurgeInterval},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `time.ParseDuration()` calling: %w", err)
		}
		*d.target = parsed
	}

	return nil
}

func setString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

type flagSet struct {
	values Config
	set    map[string]bool
}

func parseFlags(args []string) (*flagSet, error) {
	result := &flagSet{set: map[string]bool{}}
	fs := flag.NewFlagSet("tasktracker", flag.ContinueOnError)

	fs.StringVar(&result.values.RunAddr, "a", "", "address and port to run the HTTP server")
	fs.StringVar(&result.values.GRPCRunAddr, "g", "", "address and port to run the gRPC server")
	fs.StringVar(&result.values.LogLevel, "l", "", "logger level")
	fs.StringVar(&result.values.DBFileName, "f", "", "JSON file name with database")
	fs.StringVar(&result.values.DatabaseDSN, "d", "", "A string with the database connection details")
	fs.StringVar(&result.values.MigrationsDir, "m", "", "directory with the goose migrations")
	fs.StringVar(&result.values.ConfigFile, "c", "", "JSON configuration file")
	fs.StringVar(&result.values.RateLimit, "r", "", `per-IP rate limit, e.g. "100-M"`)
	fs.StringVar(&result.values.TrustedSubnet, "t", "", "CIDR allowed to query /internal/stats")
	fs.BoolVar(&result.values.TrustProxyHeaders, "trust-proxy-headers", false, "take the client address from X-Real-IP and X-Forwarded-For")
	fs.BoolVar(&result.values.LegacyUpdateErrors, "legacy-update-errors", false, "report invalid update values as 500")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		result.set[f.Name] = true
	})

	return result, nil
}

func (f *flagSet) applyTo(values *Config) {
	assignments := map[string]func(){
		"a":                    func() { values.RunAddr = f.values.RunAddr },
		"g":                    func() { values.GRPCRunAddr = f.values.GRPCRunAddr },
		"l":                    func() { values.LogLevel = f.values.LogLevel },
		"f":                    func() { values.DBFileName = f.values.DBFileName },
		"d":                    func() { values.DatabaseDSN = f.values.DatabaseDSN },
		"m":                    func() { values.MigrationsDir = f.values.MigrationsDir },
		"c":                    func() { values.ConfigFile = f.values.ConfigFile },
		"r":                    func() { values.RateLimit = f.values.RateLimit },
		"t":                    func() { values.TrustedSubnet = f.values.TrustedSubnet },
		"trust-proxy-headers":  func() { values.TrustProxyHeaders = f.values.TrustProxyHeaders },
		"legacy-update-errors": func() { values.LegacyUpdateErrors = f.values.LegacyUpdateErrors },
	}
	for name, assign := range assignments {
		if f.set[name] {
			assign()
		}
	}
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	if path == "" {
		return true
	}
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	value := fieldLevel.Field().String()

	allowedLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	return allowedLogLevels[value]
}

func validateRateLimit(fieldLevel validator.FieldLevel) bool {
	_, err := limiter.NewRateFromFormatted(fieldLevel.Field().String())

	return err == nil
}

func (c *Config) validate() error {
	validate := validator.New()

	err := validate.RegisterValidation("loglevel", validateLogLevel)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("filepath", validateFilePath)
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("ratelimit", validateRateLimit)
	if err != nil {
		return err
	}

	return validate.Struct(c)
}
