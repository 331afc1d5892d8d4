package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type DiscordConfig struct {
	Token             string `yaml:"token" env:"DISCORD_TOKEN,required"`
	ClientID          string `yaml:"client_id" env:"DISCORD_CLIENT_ID,required"`
	ApproverChannelID string `yaml:"approver_channel_id" env:"DISCORD_APPROVER_CHANNEL_ID"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST,required"`
	Port     int    `yaml:"port" env:"DB_PORT,required"`
	User     string `yaml:"user" env:"DB_USER,required"`
	Password string `yaml:"password" env:"DB_PASSWORD,required"`
	DBName   string `yaml:"dbname" env:"DB_NAME,required"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE,required"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// URL is the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type AttendanceConfig struct {
	LedgerTimeout    time.Duration `yaml:"ledger_timeout"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepConcurrency int           `yaml:"sweep_concurrency"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	DefaultDailyGoal time.Duration `yaml:"default_daily_goal"`
	DefaultTimezone  string        `yaml:"default_timezone"`
	FeedChannel      string        `yaml:"feed_channel"`
}

type Config struct {
	Discord    DiscordConfig    `yaml:"discord"`
	Database   DatabaseConfig   `yaml:"database"`
	Attendance AttendanceConfig `yaml:"attendance"`
}

// Load reads config.yaml from the working directory.
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML after replacing ${NAME} placeholders with environment
// values, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}

	a := &c.Attendance
	if a.LedgerTimeout == 0 {
		a.LedgerTimeout = 12 * time.Second
	}
	if a.TickInterval == 0 {
		a.TickInterval = 500 * time.Millisecond
	}
	if a.SweepInterval == 0 {
		a.SweepInterval = time.Minute
	}
	if a.SweepConcurrency == 0 {
		a.SweepConcurrency = 4
	}
	if a.IdleTimeout == 0 {
		a.IdleTimeout = 10 * time.Minute
	}
	if a.DefaultDailyGoal == 0 {
		a.DefaultDailyGoal = 8 * time.Hour
	}
	if a.DefaultTimezone == "" {
		a.DefaultTimezone = "UTC"
	}
	if a.FeedChannel == "" {
		a.FeedChannel = "attendance_records"
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Discord.Token == "":
		return fmt.Errorf("discord.token is required")
	case c.Discord.ClientID == "":
		return fmt.Errorf("discord.client_id is required")
	case c.Database.Host == "":
		return fmt.Errorf("database.host is required")
	case c.Database.DBName == "":
		return fmt.Errorf("database.dbname is required")
	}

	a := c.Attendance
	if a.LedgerTimeout < time.Second || a.LedgerTimeout > time.Minute {
		return fmt.Errorf("attendance.ledger_timeout must be between 1s and 1m, got %s", a.LedgerTimeout)
	}
	if a.TickInterval <= 0 || a.SweepInterval <= 0 || a.IdleTimeout <= 0 {
		return fmt.Errorf("attendance tick, sweep and idle intervals must be positive")
	}
	if a.SweepConcurrency < 0 {
		return fmt.Errorf("attendance.sweep_concurrency must not be negative")
	}
	if a.DefaultDailyGoal <= 0 || a.DefaultDailyGoal > 24*time.Hour {
		return fmt.Errorf("attendance.default_daily_goal must be within (0, 24h], got %s", a.DefaultDailyGoal)
	}
	if _, err := time.LoadLocation(a.DefaultTimezone); err != nil {
		return fmt.Errorf("attendance.default_timezone: %w", err)
	}
	return nil
}
