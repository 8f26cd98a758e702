package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-bexpr"
	"github.com/spf13/viper"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/secret"
)

// EnvPrefix prefixes every environment override, e.g. OPENLAB_OIDC_URL.
const EnvPrefix = "OPENLAB"

// DefaultConfigFile is read when no --config flag is given.
const DefaultConfigFile = "config.yml"

// Config holds the application configuration
type Config struct {
	API           APIConfig           `mapstructure:"api"`
	OIDC          OIDCConfig          `mapstructure:"oidc"`
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Log           LogConfig           `mapstructure:"log"`
}

// APIConfig holds settings for the administrative API surface.
type APIConfig struct {
	// PanicKey is the static bearer secret for POST /panic. It is read
	// separately from the struct decode so it never exists as a plain field.
	PanicKey *secret.Value `mapstructure:"-"`
}

// OIDCConfig describes the external identity provider used to resolve bearer
// tokens into usernames and groups.
type OIDCConfig struct {
	// URL is the issuer URL; discovery is performed against
	// URL + "/.well-known/openid-configuration".
	URL          string `mapstructure:"url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// AuthorizedGroups grants access when the user is a member of any of them.
	AuthorizedGroups []string `mapstructure:"authorized_groups"`

	// AuthorizationExpression is an optional go-bexpr expression evaluated
	// against {username, groups}; when set it must also match.
	AuthorizationExpression string `mapstructure:"authorization_expression"`

	GroupsClaim     string `mapstructure:"groups_claim"`      // Default: "groups"
	GroupsClaimPath string `mapstructure:"groups_claim_path"` // Optional: "name" for [{name:"dev"}]

	// Timeout bounds each call to the identity provider.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	BasePath    string   `mapstructure:"base_path"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StoreConfig holds settings shared by the arrivals and presence stores.
type StoreConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// ObservabilityConfig holds OpenTelemetry settings. An empty endpoint
// disables trace export.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"-"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel maps the configured level name to a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ConfigError reports a missing or malformed configuration value. It is
// fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var errRequired = errors.New("is required")

// keys lists every setting so environment overrides are honoured by Unmarshal
// even when the file omits them.
var keys = []string{
	"api.panic_key",
	"oidc.url",
	"oidc.client_id",
	"oidc.client_secret",
	"oidc.authorized_groups",
	"oidc.authorization_expression",
	"oidc.groups_claim",
	"oidc.groups_claim_path",
	"oidc.timeout",
	"server.addr",
	"server.base_path",
	"server.cors_origins",
	"store.ttl",
	"observability.otlp_endpoint",
	"observability.otlp_insecure",
	"observability.service_name",
	"log.level",
	"log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("oidc.groups_claim", "groups")
	v.SetDefault("oidc.timeout", 10*time.Second)
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("store.ttl", 6*time.Hour)
	v.SetDefault("observability.service_name", "openlabapi")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// ReadFile points the global viper instance at path and reads it.
func ReadFile(path string) error {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return &ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
	}
	return nil
}

// Load builds the Config from the global viper instance (file read by
// ReadFile, if any) and OPENLAB_* environment variables, then validates it.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, &ConfigError{Field: key, Err: err}
		}
	}
	setDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode: %w", err)}
	}
	cfg.API.PanicKey = secret.New(v.GetString("api.panic_key"))

	if err := cfg.Validate(); err != nil {
		cfg.API.PanicKey.Wipe()
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value formats.
func (c *Config) Validate() error {
	if c.API.PanicKey.IsZero() {
		return &ConfigError{Field: "api.panic_key", Err: errRequired}
	}

	if c.OIDC.URL == "" {
		return &ConfigError{Field: "oidc.url", Err: errRequired}
	}
	u, err := url.Parse(c.OIDC.URL)
	if err != nil {
		return &ConfigError{Field: "oidc.url", Err: err}
	}
	if u.Scheme != "https" && u.Scheme != "http" || u.Host == "" {
		return &ConfigError{Field: "oidc.url", Err: fmt.Errorf("must be an absolute http(s) URL, got %q", c.OIDC.URL)}
	}
	if c.OIDC.ClientID == "" {
		return &ConfigError{Field: "oidc.client_id", Err: errRequired}
	}
	if len(c.OIDC.AuthorizedGroups) == 0 {
		return &ConfigError{Field: "oidc.authorized_groups", Err: errors.New("at least one group is required")}
	}
	for _, g := range c.OIDC.AuthorizedGroups {
		if strings.TrimSpace(g) == "" {
			return &ConfigError{Field: "oidc.authorized_groups", Err: errors.New("group names must not be empty")}
		}
	}
	if expr := strings.TrimSpace(c.OIDC.AuthorizationExpression); expr != "" {
		if _, err := bexpr.CreateEvaluator(expr); err != nil {
			return &ConfigError{Field: "oidc.authorization_expression", Err: err}
		}
	}
	if c.OIDC.Timeout <= 0 {
		return &ConfigError{Field: "oidc.timeout", Err: errors.New("must be positive")}
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return &ConfigError{Field: "server.addr", Err: err}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return &ConfigError{Field: "server.base_path", Err: errors.New("must start with /")}
	}

	if c.Store.TTL <= 0 {
		return &ConfigError{Field: "store.ttl", Err: errors.New("must be positive")}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return &ConfigError{Field: "log.format", Err: fmt.Errorf("must be text or json, got %q", c.Log.Format)}
	}
	return nil
}
