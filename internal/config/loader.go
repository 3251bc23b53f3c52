package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "RESERVATIONS_"

// APIKey is a pre-shared credential for a device or service principal.
// Hash is an argon2id or bcrypt hash of the secret half of the key.
type APIKey struct {
	Name string
	Role string
	Hash string
}

// Config captures environment driven configuration values for the reservation service.
type Config struct {
	HTTPPort int

	DBDriver string
	DBDSN    string

	JWTSecret string
	APIKeys   []APIKey

	AMQPURL      string
	AMQPExchange string

	RedisAddr        string
	CalendarCacheTTL time.Duration

	CatalogFile string

	LockTimeout   time.Duration
	RetryAttempts int

	ModificationDeadline time.Duration
	CheckInLead          time.Duration
	NoShowGrace          time.Duration
	SweepInterval        time.Duration
	NotifyWindow         time.Duration
	RequireApproval      bool

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
}

// Defaults returns the configuration used for every unset variable.
func Defaults() Config {
	return Config{
		HTTPPort:             8080,
		DBDriver:             "sqlite",
		DBDSN:                "file:reservations.db",
		AMQPExchange:         "reservations.events",
		CalendarCacheTTL:     30 * time.Second,
		LockTimeout:          3 * time.Second,
		RetryAttempts:        4,
		ModificationDeadline: 24 * time.Hour,
		CheckInLead:          15 * time.Minute,
		NoShowGrace:          30 * time.Minute,
		SweepInterval:        10 * time.Minute,
		NotifyWindow:         2 * time.Hour,
		RateLimitRPS:         20,
		RateLimitBurst:       40,
		LogLevel:             "info",
	}
}

// LoadWithDotEnv pre-loads variables from path when the file exists and then
// calls Load. Variables already present in the environment win.
func LoadWithDotEnv(path string) (Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return Load()
}

// Load parses configuration values from the current process environment.
//
// Optional values fall back to Defaults. Missing required values and invalid
// values are collected and reported together.
func Load() (Config, error) {
	cfg := Defaults()
	p := &parser{}

	p.integer("HTTP_PORT", &cfg.HTTPPort, 1)
	p.text("DB_DSN", &cfg.DBDSN)
	if driver := p.lookup("DB_DRIVER"); driver != "" {
		switch driver {
		case "sqlite", "postgres":
			cfg.DBDriver = driver
		default:
			p.fail("DB_DRIVER")
		}
	}

	if cfg.JWTSecret = p.lookup("JWT_SECRET"); cfg.JWTSecret == "" {
		p.missing = append(p.missing, prefix+"JWT_SECRET")
	}
	if raw := p.lookup("API_KEYS"); raw != "" {
		keys, err := parseAPIKeys(raw)
		if err != nil {
			p.fail("API_KEYS")
		}
		cfg.APIKeys = keys
	}

	p.text("AMQP_URL", &cfg.AMQPURL)
	p.text("AMQP_EXCHANGE", &cfg.AMQPExchange)
	p.text("REDIS_ADDR", &cfg.RedisAddr)
	p.duration("CALENDAR_CACHE_TTL", &cfg.CalendarCacheTTL)
	p.text("CATALOG_FILE", &cfg.CatalogFile)

	p.duration("LOCK_TIMEOUT", &cfg.LockTimeout)
	p.integer("RETRY_ATTEMPTS", &cfg.RetryAttempts, 1)
	p.duration("MODIFICATION_DEADLINE", &cfg.ModificationDeadline)
	p.duration("CHECKIN_LEAD", &cfg.CheckInLead)
	p.duration("NOSHOW_GRACE", &cfg.NoShowGrace)
	p.duration("SWEEP_INTERVAL", &cfg.SweepInterval)
	p.duration("NOTIFY_WINDOW", &cfg.NotifyWindow)
	p.boolean("REQUIRE_APPROVAL", &cfg.RequireApproval)

	if value := p.lookup("RATE_LIMIT_RPS"); value != "" {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil || rps <= 0 {
			p.fail("RATE_LIMIT_RPS")
		} else {
			cfg.RateLimitRPS = rps
		}
	}
	p.integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst, 1)

	if level := p.lookup("LOG_LEVEL"); level != "" {
		switch strings.ToLower(level) {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToLower(level)
		default:
			p.fail("LOG_LEVEL")
		}
	}

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

// parseAPIKeys reads "name:role:hash" entries separated by ';' or newlines.
func parseAPIKeys(raw string) ([]APIKey, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '\n' })
	keys := make([]APIKey, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		parts := strings.SplitN(field, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("config: malformed api key entry %q", field)
		}
		switch parts[1] {
		case "user", "admin", "device":
		default:
			return nil, fmt.Errorf("config: api key %s has unknown role %q", parts[0], parts[1])
		}
		if seen[parts[0]] {
			return nil, fmt.Errorf("config: api key %s is listed twice", parts[0])
		}
		seen[parts[0]] = true
		keys = append(keys, APIKey{Name: parts[0], Role: parts[1], Hash: parts[2]})
	}
	return keys, nil
}

type parser struct {
	missing []string
	invalid []string
}

func (p *parser) lookup(key string) string {
	return strings.TrimSpace(os.Getenv(prefix + key))
}

func (p *parser) fail(key string) {
	p.invalid = append(p.invalid, prefix+key)
}

func (p *parser) text(key string, target *string) {
	if value := p.lookup(key); value != "" {
		*target = value
	}
}

func (p *parser) integer(key string, target *int, min int) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < min {
		p.fail(key)
		return
	}
	*target = n
}

func (p *parser) duration(key string, target *time.Duration) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		p.fail(key)
		return
	}
	*target = d
}

func (p *parser) boolean(key string, target *bool) {
	value := p.lookup(key)
	if value == "" {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key)
		return
	}
	*target = b
}
