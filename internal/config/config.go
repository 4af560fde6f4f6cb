package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	BaseURL      string `mapstructure:"base_url"`
	RecordingURL string `mapstructure:"recording_url"`
	WebhookURL   string `mapstructure:"webhook_url"`
	RegionURL    string `mapstructure:"region_url"`

	StateFile string `mapstructure:"state_file"`
	DiagPort  int    `mapstructure:"diag_port"`

	MeetingName string        `mapstructure:"meeting_name"`
	MeetingID   string        `mapstructure:"meeting_id"`
	OrgID       string        `mapstructure:"org_id"`
	BatchID     string        `mapstructure:"batch_id"`
	UserName    string        `mapstructure:"user_name"`
	UserID      string        `mapstructure:"user_id"`
	Role        string        `mapstructure:"role"`
	Duration    time.Duration `mapstructure:"duration"`
	IsRecording bool          `mapstructure:"is_recording"`
	Simulcast   bool          `mapstructure:"simulcast"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("state_file", "./state/classmeet.json")
	v.SetDefault("diag_port", 8090)
	v.SetDefault("duration", "40m")
	v.SetDefault("role", "student")

	v.SetEnvPrefix("classmeet")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults and env\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
