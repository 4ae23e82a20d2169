// v2
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Platform modes understood by the service.
const (
	PlatformHass = "hass"
	PlatformMQTT = "mqtt"
)

// Config captures all runtime settings of the housebrain service. Values
// come from defaults, then an optional properties file, then environment
// variables, so the service boots with minimal setup.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP control surface.
	ListenAddress string
	// LogDir receives housebrain.log.
	LogDir   string
	LogLevel string
	// InstancesPath is the YAML file holding the persisted instance records.
	InstancesPath string
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration

	// PlatformMode selects the platform adapter: hass (REST) or mqtt (statestream).
	PlatformMode string
	HassURL      string
	HassToken    string

	MQTTBroker        string
	MQTTClientID      string
	MQTTStateBase     string
	MQTTCommandPrefix string

	// LLMTimeout bounds one round trip to the reasoning endpoint.
	LLMTimeout time.Duration

	// KafkaBrokers enables the decision journal when non-empty.
	KafkaBrokers []string
	JournalTopic string

	Breaker BreakerConfig
}

// BreakerConfig holds the circuit breaker tunables shared by outbound clients.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	SuccessThreshold int
	OpenFor          time.Duration
	AttemptTimeout   time.Duration
	Backoff          time.Duration
}

const (
	defaultListenAddress = ":8088"
	defaultLogDir        = "./logs"
	defaultLogLevel      = "info"
	defaultInstancesPath = "instances.yaml"
	defaultPropsPath     = "housebrain.properties"
	defaultReadTimeout   = 5 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultShutdown      = 5 * time.Second
	defaultHassURL       = "http://homeassistant.local:8123"
	defaultMQTTClientID  = "housebrain"
	defaultMQTTStateBase = "homeassistant"
	defaultMQTTCommand   = "housebrain/command"
	defaultLLMTimeout    = 30 * time.Second
	defaultJournalTopic  = "housebrain.decisions"
)

// Load resolves configuration by layering defaults, an optional properties
// file, and finally environment variables. The properties file location can
// be overridden with HOUSEBRAIN_PROPERTIES_PATH or by passing a non-empty path.
func Load(propsPath string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(propsPath) == "" {
		propsPath = strings.TrimSpace(os.Getenv("HOUSEBRAIN_PROPERTIES_PATH"))
	}
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing else is provided.
func Defaults() Config {
	return Config{
		ListenAddress:     defaultListenAddress,
		LogDir:            filepath.Clean(defaultLogDir),
		LogLevel:          defaultLogLevel,
		InstancesPath:     defaultInstancesPath,
		HTTPReadTimeout:   defaultReadTimeout,
		HTTPWriteTimeout:  defaultWriteTimeout,
		ShutdownTimeout:   defaultShutdown,
		PlatformMode:      PlatformHass,
		HassURL:           defaultHassURL,
		MQTTClientID:      defaultMQTTClientID,
		MQTTStateBase:     defaultMQTTStateBase,
		MQTTCommandPrefix: defaultMQTTCommand,
		LLMTimeout:        defaultLLMTimeout,
		JournalTopic:      defaultJournalTopic,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenFor:          30 * time.Second,
			AttemptTimeout:   3 * time.Second,
			Backoff:          200 * time.Millisecond,
		},
	}
}

// Validate checks cross-field constraints after layering.
func (c Config) Validate() error {
	switch c.PlatformMode {
	case PlatformHass:
		if c.HassURL == "" {
			return errors.New("hass_url is required in hass mode")
		}
	case PlatformMQTT:
		if c.MQTTBroker == "" {
			return errors.New("mqtt_broker is required in mqtt mode")
		}
	default:
		return fmt.Errorf("unknown platform_mode %q", c.PlatformMode)
	}
	if c.LLMTimeout <= 0 {
		return errors.New("llm_timeout must be positive")
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.HassToken != "" {
		c.HassToken = "***"
	}
	return c
}

// JournalEnabled reports whether cycle events go to Kafka.
func (c Config) JournalEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.JournalTopic != ""
}

type setting struct {
	prop string
	env  []string
	set  func(cfg *Config, value string) error
}

// settings maps properties keys and environment variables onto the same setter.
var settings = []setting{
	{"listen_address", []string{"HOUSEBRAIN_LISTEN_ADDRESS"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.ListenAddress = s })
	}},
	{"log_dir", []string{"HOUSEBRAIN_LOG_DIR", "LOG_DIR"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.LogDir = filepath.Clean(s) })
	}},
	{"log_level", []string{"HOUSEBRAIN_LOG_LEVEL", "LOG_LEVEL"}, func(c *Config, v string) error {
		c.LogLevel = v
		return nil
	}},
	{"instances_path", []string{"HOUSEBRAIN_INSTANCES_PATH"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.InstancesPath = filepath.Clean(s) })
	}},
	{"http_read_timeout_ms", []string{"HOUSEBRAIN_HTTP_READ_TIMEOUT_MS"}, func(c *Config, v string) error {
		return millis(v, &c.HTTPReadTimeout)
	}},
	{"http_write_timeout_ms", []string{"HOUSEBRAIN_HTTP_WRITE_TIMEOUT_MS"}, func(c *Config, v string) error {
		return millis(v, &c.HTTPWriteTimeout)
	}},
	{"shutdown_timeout_ms", []string{"HOUSEBRAIN_SHUTDOWN_TIMEOUT_MS"}, func(c *Config, v string) error {
		return millis(v, &c.ShutdownTimeout)
	}},
	{"platform_mode", []string{"PLATFORM_MODE"}, func(c *Config, v string) error {
		c.PlatformMode = strings.ToLower(v)
		return nil
	}},
	{"hass_url", []string{"HASS_URL"}, func(c *Config, v string) error {
		c.HassURL = strings.TrimRight(v, "/")
		return nil
	}},
	{"hass_token", []string{"HASS_TOKEN"}, func(c *Config, v string) error {
		c.HassToken = v
		return nil
	}},
	{"mqtt_broker", []string{"MQTT_BROKER"}, func(c *Config, v string) error {
		c.MQTTBroker = v
		return nil
	}},
	{"mqtt_client_id", []string{"MQTT_CLIENT_ID"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.MQTTClientID = s })
	}},
	{"mqtt_state_base", []string{"MQTT_STATE_BASE"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.MQTTStateBase = strings.Trim(s, "/") })
	}},
	{"mqtt_command_prefix", []string{"MQTT_COMMAND_PREFIX"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.MQTTCommandPrefix = strings.Trim(s, "/") })
	}},
	{"llm_timeout_ms", []string{"LLM_TIMEOUT_MS"}, func(c *Config, v string) error {
		return millis(v, &c.LLMTimeout)
	}},
	{"kafka_brokers", []string{"HOUSEBRAIN_KAFKA_BROKERS", "KAFKA_BROKERS"}, func(c *Config, v string) error {
		c.KafkaBrokers = splitAndTrim(v)
		return nil
	}},
	{"journal_topic", []string{"JOURNAL_TOPIC"}, func(c *Config, v string) error {
		return nonEmpty(v, func(s string) { c.JournalTopic = s })
	}},
	{"cb.enabled", []string{"CB_ENABLED"}, func(c *Config, v string) error {
		c.Breaker.Enabled = parseBool(v)
		return nil
	}},
	{"cb.failure_threshold", []string{"CB_FAILURE_THRESHOLD"}, func(c *Config, v string) error {
		return positiveInt(v, &c.Breaker.FailureThreshold)
	}},
	{"cb.success_threshold", []string{"CB_SUCCESS_THRESHOLD"}, func(c *Config, v string) error {
		return positiveInt(v, &c.Breaker.SuccessThreshold)
	}},
	{"cb.open_seconds", []string{"CB_OPEN_SECONDS"}, func(c *Config, v string) error {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		if secs <= 0 {
			return errors.New("value must be greater than zero")
		}
		c.Breaker.OpenFor = time.Duration(secs * float64(time.Second))
		return nil
	}},
	{"cb.timeout_ms", []string{"CB_TIMEOUT_MS"}, func(c *Config, v string) error {
		return millis(v, &c.Breaker.AttemptTimeout)
	}},
	{"cb.backoff_ms", []string{"CB_BACKOFF_MS"}, func(c *Config, v string) error {
		return millis(v, &c.Breaker.Backoff)
	}},
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	byKey := make(map[string]setting, len(settings))
	for _, s := range settings {
		byKey[s.prop] = s
	}

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "//") {
			continue
		}
		k, v, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.ToLower(strings.TrimSpace(k))
		s, known := byKey[key]
		if !known {
			// Unknown keys are ignored to keep the loader forward-compatible.
			continue
		}
		if err := s.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	for _, s := range settings {
		for _, key := range s.env {
			v, ok := lookupEnvTrimmed(key)
			if !ok {
				continue
			}
			if err := s.set(cfg, v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			break
		}
	}
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func nonEmpty(v string, apply func(string)) error {
	if v == "" {
		return errors.New("value cannot be empty")
	}
	apply(v)
	return nil
}

func millis(v string, dst *time.Duration) error {
	d, err := parsePositiveMillis(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func positiveInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 1 {
		return errors.New("value must be >= 1")
	}
	*dst = n
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
