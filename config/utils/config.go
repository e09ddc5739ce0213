// Package config provides utilities to load environment variables & set config structs, it includes app, logger, scheduler, http server, metrics, redis cache, db and rabbitmq variables.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// AppConfig contains environment variables for the application, scheduler, sinks and http server
type (
	AppConfig struct {
		App       *App       `mapstructure:"app"`
		Logger    *Logger    `mapstructure:"logger"`
		Scheduler *Scheduler `mapstructure:"scheduler"`
		HTTP      *HTTP      `mapstructure:"http"`
		Metrics   *Metrics   `mapstructure:"metrics"`
		Redis     *Redis     `mapstructure:"redis"`
		DB        *DB        `mapstructure:"db"`
		RabbitMQ  *RabbitMQ  `mapstructure:"rabbitmq"`
	}

	// App contains all the environment variables for the application
	App struct {
		Name  string `mapstructure:"name"`
		Env   string `mapstructure:"env"`
		Owner string `mapstructure:"owner"`
	}

	// Scheduler sizes the shared task scheduler and its event bus
	Scheduler struct {
		Policy           string             `mapstructure:"policy"`
		MaxConcurrent    int                `mapstructure:"maxConcurrent"`
		Capacity         map[string]float64 `mapstructure:"capacity"`
		DefaultTimeout   time.Duration      `mapstructure:"defaultTimeout"`
		UsePredictor     bool               `mapstructure:"usePredictor"`
		EventBuffer      int                `mapstructure:"eventBuffer"`
		SubscriberBuffer int                `mapstructure:"subscriberBuffer"`
		// finished runs kept in memory when no status store takes them
		RunRetention int `mapstructure:"runRetention"`
	}

	// HTTP contains the submission API listener settings
	HTTP struct {
		Host         string        `mapstructure:"host"`
		Port         string        `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"readTimeout"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	}

	// Metrics contains the prometheus exporter settings
	Metrics struct {
		Enabled   bool   `mapstructure:"enabled"`
		Namespace string `mapstructure:"namespace"`
	}

	// Redis contains all the environment variables for the run status cache
	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Host     string        `mapstructure:"host"`
		Port     string        `mapstructure:"port"`
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		TTL      time.Duration `mapstructure:"ttl"`
		PoolSize int           `mapstructure:"poolSize"`
	}

	// DB contains all the environment variables for the run history database
	DB struct {
		Enabled    bool   `mapstructure:"enabled"`
		Connection string `mapstructure:"connection"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`

		// pool sizing for the run history writer
		MaxConns          int32         `mapstructure:"maxConns"`
		MaxConnIdleTime   time.Duration `mapstructure:"maxConnIdleTime"`
		HealthCheckPeriod time.Duration `mapstructure:"healthCheckPeriod"`
	}

	// RabbitMQ contains the lifecycle event exchange settings
	RabbitMQ struct {
		Enabled  bool   `mapstructure:"enabled"`
		URL      string `mapstructure:"url"`
		Exchange string `mapstructure:"exchange"`
		Queue    string `mapstructure:"queue"`
	}

	// Logger contains all the environment variables for the logger
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}
)

// addZapEncoderConfig fills encoder config with zapcore types
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

func setDefaults() {
	viper.SetDefault("app.name", "workflow-scheduler")
	viper.SetDefault("app.env", "development")

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "json")
	viper.SetDefault("logger.encoderConfig.messageKey", "msg")
	viper.SetDefault("logger.encoderConfig.levelKey", "level")
	viper.SetDefault("logger.encoderConfig.timeKey", "ts")
	viper.SetDefault("logger.encoderConfig.nameKey", "logger")
	viper.SetDefault("logger.encoderConfig.callerKey", "caller")

	viper.SetDefault("scheduler.policy", string(domain.PolicyPriority))
	viper.SetDefault("scheduler.maxConcurrent", 4)
	viper.SetDefault("scheduler.defaultTimeout", time.Minute)
	viper.SetDefault("scheduler.usePredictor", true)
	viper.SetDefault("scheduler.eventBuffer", 1024)
	viper.SetDefault("scheduler.subscriberBuffer", 256)
	viper.SetDefault("scheduler.runRetention", 1000)

	viper.SetDefault("http.host", "0.0.0.0")
	viper.SetDefault("http.port", "8080")
	viper.SetDefault("http.readTimeout", 10*time.Second)
	viper.SetDefault("http.writeTimeout", 10*time.Second)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.namespace", "workflow_scheduler")

	viper.SetDefault("redis.ttl", 24*time.Hour)
	viper.SetDefault("redis.poolSize", 4)
	viper.SetDefault("db.connection", "postgres")
	viper.SetDefault("db.maxConns", 4)
	viper.SetDefault("db.maxConnIdleTime", 5*time.Minute)
	viper.SetDefault("db.healthCheckPeriod", 5*time.Minute)
	viper.SetDefault("rabbitmq.exchange", "workflow.events")
	viper.SetDefault("rabbitmq.queue", "workflow.monitor")
}

// Load reads config.yaml from the given paths (default "." and "/etc/secrets/"), applies
// environment overrides and defaults. A missing file is not an error.
func Load(paths ...string) (*AppConfig, error) {
	viper.Reset()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "/etc/secrets/"}
	}
	for _, p := range paths {
		viper.AddConfigPath(p)
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("env")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Bind secrets
	for key, env := range map[string]string{
		"app.name":          "APP_NAME",
		"db.host":           "PG_HOST",
		"db.port":           "PG_PORT",
		"db.user":           "PG_USER",
		"db.password":       "PG_PASS",
		"db.name":           "PG_DB",
		"redis.addr":        "REDIS_ADDR",
		"redis.password":    "REDIS_PASSWORD",
		"rabbitmq.url":      "AMQP_URL",
		"scheduler.policy":  "SCHEDULER_POLICY",
		"http.port":         "PORT",
		"logger.level":      "LOG_LEVEL",
		"metrics.namespace": "METRICS_NAMESPACE",
	} {
		if err := viper.BindEnv(key, "ENV_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	var config *AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	addZapEncoderConfig(&config.Logger.EncoderConfig)
	if len(config.Scheduler.Capacity) == 0 {
		config.Scheduler.Capacity = map[string]float64{"cpu": 4, "memory": 8192}
	}

	if err := config.Scheduler.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// New creates a new AppConfig instance or exits
func New() *AppConfig {
	config, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return config
}

func (s *Scheduler) validate() error {
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.maxConcurrent must be positive, got %d", s.MaxConcurrent)
	}
	if s.RunRetention <= 0 {
		return fmt.Errorf("scheduler.runRetention must be positive, got %d", s.RunRetention)
	}
	if _, err := s.SchedulePolicy(); err != nil {
		return err
	}
	if _, err := s.PoolCapacity(); err != nil {
		return err
	}
	return nil
}

// SchedulePolicy returns the configured selection policy
func (s *Scheduler) SchedulePolicy() (domain.SchedulePolicy, error) {
	return domain.ParseSchedulePolicy(s.Policy)
}

// PoolCapacity converts the capacity map to domain resource types
func (s *Scheduler) PoolCapacity() (domain.Capacity, error) {
	c := make(domain.Capacity, len(s.Capacity))
	for name, amount := range s.Capacity {
		t, err := domain.ParseResourceType(name)
		if err != nil {
			return nil, fmt.Errorf("scheduler.capacity: %w", err)
		}
		if amount < 0 {
			return nil, fmt.Errorf("scheduler.capacity.%s must not be negative", name)
		}
		c[t] = amount
	}
	return c, nil
}

// Addr returns the http listen address
func (h *HTTP) Addr() string {
	return h.Host + ":" + h.Port
}

// URL builds the postgres connection string
func (d *DB) URL() string {
	return fmt.Sprintf("%s://%s:%s@%s:%s/%s?sslmode=disable",
		d.Connection, d.User, d.Password, d.Host, d.Port, d.Name)
}
