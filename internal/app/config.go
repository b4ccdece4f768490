package app

import (
	"net/netip"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (MOJITO_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage        StorageConfig
	DatabaseURL    string        `env:"DATABASE_URL" usage:"PostgreSQL connection URL (MOJITO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Mongo          MongoConfig
	RedisURL       string        `env:"REDIS_URL" usage:"Redis URL for order notifications; empty disables them (MOJITO_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper   string        `env:"API_KEY_PEPPER" usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	APIKeys        []string      `env:"API_KEYS" usage:"Hex HMAC-SHA256 hashes of accepted API keys; empty disables auth" flag:"api-keys"`
	PublishTimeout time.Duration `default:"2s" usage:"Upper bound for a single notification publish" flag:"publish-timeout"`
	RateLimit      RateLimitConfig
	WebSocket      WebSocketConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// StorageConfig selects the persistence engine.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Storage engine: postgres or mongo"`
}

// MongoConfig configures the document store.
type MongoConfig struct {
	URI      string `env:"URI" usage:"MongoDB connection URI"`
	Database string `default:"mojitobar" usage:"MongoDB database name"`
}

// RateLimitConfig controls the Redis-backed limiter on order writes. It is
// inactive without Redis.
type RateLimitConfig struct {
	Max            int           `default:"120" usage:"Max order writes per client and window; 0 disables"`
	Window         time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustedProxies []string      `usage:"Addresses or CIDRs of proxies whose X-Forwarded-For is trusted"`
}

// Proxies parses TrustedProxies. A bare address trusts that host only.
func (c RateLimitConfig) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, s := range c.TrustedProxies {
		if addr, err := netip.ParseAddr(s); err == nil {
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, errors.Errorf("invalid trusted proxy %q", s)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins, shell patterns allowed"`
	MaxAge  int      `default:"600" usage:"Preflight cache duration in seconds" flag:"cors-max-age"`
}

// WebSocketConfig controls the live-view endpoint.
type WebSocketConfig struct {
	SendBuffer   int           `default:"16" usage:"Queued messages per client before drops"`
	WriteTimeout time.Duration `default:"5s" usage:"Timeout for a single message write"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags, YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "MOJITO",
		Files:     []string{"config.yaml", "/etc/mojito/config.yaml"},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	ac.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected storage driver can connect.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set MOJITO_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo URI is required: set MOJITO_MONGO_URI")
		}
		if c.Mongo.Database == "" {
			return errors.New("mongo database name is required")
		}
	default:
		return errors.Errorf("unknown storage driver %q: want %q or %q", c.Storage.Driver, DriverPostgres, DriverMongo)
	}
	if c.PublishTimeout <= 0 {
		return errors.Errorf("publish timeout must be positive, got %s", c.PublishTimeout)
	}
	if _, err := c.RateLimit.Proxies(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL, REDIS_URL and PORT to the application's
// MOJITO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
