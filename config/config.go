package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	TokenSourceCookie = "cookie"
	TokenSourceBearer = "bearer"

	minSecretLength = 32

	defaultJWTSecret = "your-secret-key-change-in-production"
)

var ErrInsecureSecret = errors.New("insecure secret")

// insecureSecrets are placeholder values that ship in examples and docs.
var insecureSecrets = map[string]struct{}{
	"secret":                              {},
	"changeme":                            {},
	"change-me":                           {},
	"your-secret-key":                     {},
	"your-secret-key-change-in-production": {},
	"test-secret":                         {},
}

type Config struct {
	Env      string
	HTTP     ServerConfig
	GRPC     ServerConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Tokens   TokenConfig
	Password PasswordConfig
	Cookie   CookieConfig
	Gate     GateConfig
	Webhook  WebhookConfig
	Limits   RateLimitConfig
	Log      LogConfig
	Jobs     JobsConfig

	FrontendURL string

	// TrustedProxies are the networks whose X-Forwarded-For is believed when
	// resolving the client IP. Empty means the TCP peer address is used.
	TrustedProxies []*net.IPNet
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Enabled reports whether a shared Redis store is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type TokenConfig struct {
	ResetTTL time.Duration
}

type PasswordConfig struct {
	Policy     PasswordPolicy
	BcryptCost int
}

type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasNumber = true
		case unicode.IsPunct(ch) || unicode.IsSymbol(ch):
			hasSpecial = true
		}
	}

	var missing []string
	if p.RequireUppercase && !hasUpper {
		missing = append(missing, "uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		missing = append(missing, "lowercase letter")
	}
	if p.RequireNumber && !hasNumber {
		missing = append(missing, "number")
	}
	if p.RequireSpecial && !hasSpecial {
		missing = append(missing, "special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least one: %s", strings.Join(missing, ", "))
	}

	return nil
}

type CookieConfig struct {
	Name   string
	Secure bool
	Domain string
}

type GateConfig struct {
	TokenSources      []string
	RequireActive     bool
	SessionRevocation bool
}

// AllowsBearer reports whether the Authorization header is an accepted token source.
func (c GateConfig) AllowsBearer() bool {
	return containsSource(c.TokenSources, TokenSourceBearer)
}

// AllowsCookie reports whether the session cookie is an accepted token source.
func (c GateConfig) AllowsCookie() bool {
	return containsSource(c.TokenSources, TokenSourceCookie)
}

type WebhookConfig struct {
	Secret       string
	Provider     string
	Tolerance    time.Duration
	EventTTL     time.Duration
	MaxBodyBytes int64
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type LogConfig struct {
	Level  string
	Format string
}

type JobsConfig struct {
	PurgeSchedule string
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c *Config) DSN() string {
	return c.MySQL.DSN
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	env := strings.ToLower(getEnv("APP_ENV", EnvDevelopment))
	if env != EnvProduction && env != EnvDevelopment {
		return nil, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvProduction, EnvDevelopment, env)
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	trustedProxies, err := parseCIDRs(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}

	sources, err := parseTokenSources(getEnv("AUTH_TOKEN_SOURCES", "cookie,bearer"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env: env,
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		GRPC: ServerConfig{
			Host: getEnv("GRPC_HOST", "0.0.0.0"),
			Port: getEnv("GRPC_PORT", "9090"),
		},
		MySQL: MySQLConfig{DSN: mysqlDSN},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getIntEnv("REDIS_DB", 0),
			Timeout:  getDurationEnv("REDIS_TIMEOUT", 2*time.Second, time.Second),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", defaultJWTSecret),
			TTL:    getDurationEnv("JWT_TTL", 7*24*time.Hour, time.Minute),
		},
		Tokens: TokenConfig{
			ResetTTL: getDurationEnv("RESET_TOKEN_TTL", time.Hour, time.Minute),
		},
		Password: PasswordConfig{
			Policy:     loadPasswordPolicy(),
			BcryptCost: getIntEnv("PASSWORD_BCRYPT_COST", 0),
		},
		Cookie: CookieConfig{
			Name:   getEnv("COOKIE_NAME", "access_token"),
			Secure: getBoolEnv("COOKIE_SECURE", env == EnvProduction),
			Domain: os.Getenv("COOKIE_DOMAIN"),
		},
		Gate: GateConfig{
			TokenSources:      sources,
			RequireActive:     getBoolEnv("AUTH_REQUIRE_ACTIVE", true),
			SessionRevocation: getBoolEnv("SESSION_REVOCATION", false),
		},
		Webhook: WebhookConfig{
			Secret:       os.Getenv("WEBHOOK_SECRET"),
			Provider:     getEnv("WEBHOOK_PROVIDER", "Yookassa"),
			Tolerance:    getDurationEnv("WEBHOOK_TOLERANCE", 300*time.Second, time.Second),
			EventTTL:     getDurationEnv("WEBHOOK_EVENT_TTL", time.Hour, time.Second),
			MaxBodyBytes: int64(getIntEnv("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Limits: RateLimitConfig{
			RPS:   getFloatEnv("RATE_LIMIT_RPS", 1),
			Burst: getIntEnv("RATE_LIMIT_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		Jobs: JobsConfig{
			PurgeSchedule: getEnv("PURGE_SCHEDULE", "0 17 * * * *"),
		},
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		TrustedProxies: trustedProxies,
	}

	if cfg.Webhook.Secret == "" {
		return nil, errors.New("WEBHOOK_SECRET environment variable is required")
	}
	if err = cfg.checkSecrets(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// checkSecrets rejects placeholder secrets in production and only warns
// about them in development.
func (c *Config) checkSecrets() error {
	for name, value := range map[string]string{
		"JWT_SECRET":     c.JWT.Secret,
		"WEBHOOK_SECRET": c.Webhook.Secret,
	} {
		if !IsInsecureSecret(value) {
			continue
		}
		if c.IsProduction() {
			return fmt.Errorf("%w: %s must be at least %d characters and not a placeholder", ErrInsecureSecret, name, minSecretLength)
		}
		logrus.WithField("variable", name).Warn("Insecure secret configured, do not use this value in production")
	}
	return nil
}

// IsInsecureSecret reports whether a signing secret is empty, short or a
// well-known placeholder.
func IsInsecureSecret(secret string) bool {
	if len(secret) < minSecretLength {
		return true
	}
	_, known := insecureSecrets[strings.ToLower(secret)]
	return known
}

func parseTokenSources(raw string) ([]string, error) {
	var sources []string
	for _, part := range strings.Split(raw, ",") {
		source := strings.ToLower(strings.TrimSpace(part))
		if source == "" {
			continue
		}
		if source != TokenSourceCookie && source != TokenSourceBearer {
			return nil, fmt.Errorf("AUTH_TOKEN_SOURCES: unknown token source %q", source)
		}
		if !containsSource(sources, source) {
			sources = append(sources, source)
		}
	}
	if len(sources) == 0 {
		return nil, errors.New("AUTH_TOKEN_SOURCES must name at least one token source")
	}
	return sources, nil
}

// parseCIDRs reads a comma separated list of networks. A bare IP is taken as
// a single-host network.
func parseCIDRs(raw string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: invalid address %q", part)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(part)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

func containsSource(sources []string, candidate string) bool {
	for _, source := range sources {
		if source == candidate {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("168h", "90s"). Bare integers
// are read in unit.
func getDurationEnv(key string, defaultValue, unit time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * unit
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func loadPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        getIntEnv("PASSWORD_MIN_LENGTH", 8),
		RequireUppercase: getBoolEnv("PASSWORD_REQUIRE_UPPERCASE", false),
		RequireLowercase: getBoolEnv("PASSWORD_REQUIRE_LOWERCASE", false),
		RequireNumber:    getBoolEnv("PASSWORD_REQUIRE_NUMBER", false),
		RequireSpecial:   getBoolEnv("PASSWORD_REQUIRE_SPECIAL", false),
	}
}
