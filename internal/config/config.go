package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"phantomrecorder/backend/internal/recorder"
)

// Config is read from environment variables, optionally layered over a
// YAML file named by CONFIG_FILE.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Chrome   ChromeConfig   `yaml:"chrome"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Port         string `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	Host         string `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Mode         string `yaml:"mode" env:"SERVER_MODE" env-default:"debug"`
	ReadTimeout  int    `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30"`
	WriteTimeout int    `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"30"`
	// APIKey is exchanged for a JWT. The API refuses to start without it.
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" env:"DB_ENABLED" env-default:"false"`
	Host     string `yaml:"host" env:"DB_HOST" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"DB_PORT" env-default:"3306"`
	Username string `yaml:"username" env:"DB_USERNAME" env-default:"root"`
	Password string `yaml:"password" env:"DB_PASSWORD" env-default:"root"`
	Database string `yaml:"database" env:"DB_NAME" env-default:"phantomrecorder"`
	Charset  string `yaml:"charset" env:"DB_CHARSET" env-default:"utf8mb4"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret" env:"JWT_SECRET" env-default:"phantom-recorder-secret-key"`
	ExpireTime int    `yaml:"expire_time" env:"JWT_EXPIRE_TIME" env-default:"86400"`
}

type ChromeConfig struct {
	HeadlessMode bool   `yaml:"headless" env:"CHROME_HEADLESS" env-default:"false"`
	MaxInstances int    `yaml:"max_instances" env:"CHROME_MAX_INSTANCES" env-default:"20"`
	ExecPath     string `yaml:"path" env:"CHROME_PATH"`
}

type RecorderConfig struct {
	AckTimeout    time.Duration `yaml:"ack_timeout" env:"RECORDER_ACK_TIMEOUT" env-default:"10s"`
	FailurePolicy string        `yaml:"failure_policy" env:"RECORDER_FAILURE_POLICY" env-default:"drop"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"RECORDER_SESSION_TTL" env-default:"30m"`
	ReapSchedule  string        `yaml:"reap_schedule" env:"RECORDER_REAP_SCHEDULE" env-default:"@every 1m"`
}

// Policy returns the parsed failure policy.
func (r RecorderConfig) Policy() recorder.FailurePolicy {
	p, _ := recorder.ParseFailurePolicy(r.FailurePolicy)
	return p
}

func LoadConfig() (*Config, error) {
	var cfg Config

	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := recorder.ParseFailurePolicy(c.Recorder.FailurePolicy); err != nil {
		return fmt.Errorf("RECORDER_FAILURE_POLICY: %w", err)
	}
	if c.Recorder.AckTimeout < 0 {
		return fmt.Errorf("RECORDER_ACK_TIMEOUT must not be negative, got %s", c.Recorder.AckTimeout)
	}
	if c.Chrome.MaxInstances < 1 {
		return fmt.Errorf("CHROME_MAX_INSTANCES must be at least 1, got %d", c.Chrome.MaxInstances)
	}
	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}
