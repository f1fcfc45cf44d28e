// Package config loads server settings from an optional YAML file and
// EASYDECK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EASYDECK_"

// DefaultFile is read when no path is given and it exists.
const DefaultFile = "config.yaml"

// Config is the full server configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Auth      AuthConfig      `koanf:"auth"`
	Google    GoogleConfig    `koanf:"google"`
	Storage   StorageConfig   `koanf:"storage"`
	RateLimit RateLimitConfig `koanf:"rateLimit"`
	Secrets   SecretsConfig   `koanf:"secrets"`
}

type HTTPConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"readTimeout"`
	WriteTimeout    time.Duration `koanf:"writeTimeout"`
	IdleTimeout     time.Duration `koanf:"idleTimeout"`
	ShutdownTimeout time.Duration `koanf:"shutdownTimeout"`
	AllowedOrigins  []string      `koanf:"allowedOrigins"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

type AuthConfig struct {
	// JWTSecret verifies bearer tokens from the identity provider.
	JWTSecret string `koanf:"jwtSecret" validate:"required"`
	Issuer    string `koanf:"issuer"`
}

type GoogleConfig struct {
	ClientID        string `koanf:"clientId"`
	ClientSecret    string `koanf:"clientSecret"`
	RedirectURI     string `koanf:"redirectUri"`
	SuccessRedirect string `koanf:"successRedirect"`
	// RefreshExpired renews expired credentials with the stored refresh
	// token instead of asking the user to reconnect.
	RefreshExpired bool `koanf:"refreshExpired"`
}

type StorageConfig struct {
	Driver           string `koanf:"driver" validate:"oneof=memory sqlite postgres firestore"`
	DSN              string `koanf:"dsn" validate:"required_if=Driver sqlite,required_if=Driver postgres"`
	ProjectID        string `koanf:"projectId" validate:"required_if=Driver firestore"`
	CollectionPrefix string `koanf:"collectionPrefix"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requestsPerSecond" validate:"gte=0"`
	Burst             int     `koanf:"burst" validate:"gte=0"`
}

// SecretsConfig names Secret Manager secrets that override the matching
// plain settings when ProjectID is set.
type SecretsConfig struct {
	ProjectID      string `koanf:"projectId"`
	ClientSecretID string `koanf:"clientSecretId"`
	JWTSecretID    string `koanf:"jwtSecretId"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Google: GoogleConfig{
			RedirectURI: "http://localhost:8080/auth/google/callback",
		},
		Storage: StorageConfig{
			Driver:           "sqlite",
			DSN:              "data/easydeck.db",
			CollectionPrefix: "easydeck_",
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// then applies environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config %s failed: %w", path, err)
		}
	}

	known := keyTree(reflect.TypeOf(Config{}))
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return canonicalizeEnvKey(strings.TrimPrefix(key, EnvPrefix), known), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env variables failed: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings after secrets have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// keyTree mirrors the koanf tags of t as nested maps, so environment keys
// like HTTP_READTIMEOUT resolve to http.readTimeout.
func keyTree(t reflect.Type) map[string]any {
	tree := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("koanf")
		if name == "" {
			continue
		}
		if f.Type.Kind() == reflect.Struct {
			tree[name] = keyTree(f.Type)
			continue
		}
		tree[name] = nil
	}
	return tree
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (string, map[string]any, bool) {
	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}
		child, _ := value.(map[string]any)
		return key, child, true
	}
	return "", nil, false
}

func normalizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
