// Package config loads and validates the tap configuration: a Singer JSON
// config file overlaid with TAP_LIGHTCAST_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EnvPrefix prefixes the environment variable of every config key.
const EnvPrefix = "TAP_LIGHTCAST_"

// NoLimit is the limit value that requests every skill id.
const NoLimit = -1

// Defaults.
const (
	DefaultAuthURL     = "https://auth.emsicloud.com/connect/token"
	DefaultAPIURL      = "https://emsiservices.com/skills"
	DefaultUserAgent   = "tap-lightcast/0.1.0"
	DefaultCacheTTL    = 24 * time.Hour
	DefaultMaxAttempts = 3
	DefaultLogLevel    = "info"
)

// Config is the tap configuration.
type Config struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`

	// Limit caps the number of skill ids; nil or -1 means no cap.
	Limit *int `json:"limit,omitempty" validate:"omitempty,eq=-1|min=1"`

	AuthURL   string `json:"auth_url" validate:"required,url"`
	APIURL    string `json:"api_url" validate:"required,url"`
	UserAgent string `json:"user_agent" validate:"required"`

	// RedisURL enables the response cache, e.g. redis://localhost:6379/0.
	RedisURL string   `json:"redis_url,omitempty" validate:"omitempty,url"`
	CacheTTL Duration `json:"cache_ttl" validate:"gte=0"`

	MaxAttempts     int  `json:"max_attempts" validate:"min=1,max=10"`
	ValidateRecords bool `json:"validate_records"`

	LogLevel  string `json:"log_level" validate:"oneof=debug info warn warning error"`
	LogPretty bool   `json:"log_pretty"`

	// MetricsAddr starts a Prometheus endpoint when set, e.g. ":9090".
	MetricsAddr string `json:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		AuthURL:         DefaultAuthURL,
		APIURL:          DefaultAPIURL,
		UserAgent:       DefaultUserAgent,
		CacheTTL:        Duration(DefaultCacheTTL),
		MaxAttempts:     DefaultMaxAttempts,
		ValidateRecords: true,
		LogLevel:        DefaultLogLevel,
	}
}

// RecordLimit returns the skill id cap, or 0 when there is none.
func (c *Config) RecordLimit() int {
	if c.Limit == nil || *c.Limit == NoLimit {
		return 0
	}
	return *c.Limit
}

// Load reads the JSON config file at path (optional when empty), applies the
// environment overlay and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides keys that have a TAP_LIGHTCAST_<KEY> variable.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		key := jsonName(t.Field(i))
		raw, ok := lookup(EnvPrefix + strings.ToUpper(key))
		if !ok {
			continue
		}
		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("env %s%s: %w", EnvPrefix, strings.ToUpper(key), err)
		}
	}
	return nil
}

func setField(f reflect.Value, raw string) error {
	switch f.Interface().(type) {
	case Duration:
		var d Duration
		if err := d.parse(raw); err != nil {
			return err
		}
		f.Set(reflect.ValueOf(d))
		return nil
	case *int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.Set(reflect.ValueOf(&n))
		return nil
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", f.Kind())
	}
	return nil
}

// ValidationError lists every invalid config key.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents one invalid config key.
type FieldError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Key+": "+fe.Message)
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return v
}

// Validate checks every key and reports all failures at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	out := &ValidationError{Errors: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Errors = append(out.Errors, FieldError{
			Key:     fe.Field(),
			Message: describe(fe),
		})
	}
	return out
}

func describe(fe validator.FieldError) string {
	if fe.Field() == "limit" {
		return "must be -1 (no limit) or a positive integer"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a URL"
	case "oneof":
		return "must be one of " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gte":
		return "must not be negative"
	default:
		return "failed " + fe.Tag()
	}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// Duration is a time.Duration read from "24h" style strings or seconds.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %s", b)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) parse(s string) error {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
