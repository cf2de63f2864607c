package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

func NewConfigRepository(path string) (*Config, error) {
	viper.SetConfigFile(path)

	viper.AutomaticEnv()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setConfigDefaults()

	err := viper.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var c Config
	err = viper.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	valid := validator.New()
	if err = valid.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &c, nil
}

func setConfigDefaults() {
	viper.SetDefault("detection.interval_seconds", 60)
	viper.SetDefault("detection.window", "5m")
	viper.SetDefault("detection.threshold_sigma", 2.0)
	viper.SetDefault("detection.dedup_window_seconds", 300)
	viper.SetDefault("orchestrator.interval_seconds", 30)
	viper.SetDefault("orchestrator.batch_size", 10)
	viper.SetDefault("approval.timeout_seconds", 300)
	viper.SetDefault("workflows.directory", "workflows")
}

type Config struct {
	Detection    DetectionConfig    `mapstructure:"detection"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Workflows    WorkflowsConfig    `mapstructure:"workflows"`
	Influx       InfluxConfig       `mapstructure:"influx" validate:"required"`
	Slack        SlackConfig        `mapstructure:"slack" validate:"required"`
	Confluence   ConfluenceConfig   `mapstructure:"confluence"`
}

type DetectionConfig struct {
	IntervalSeconds    int     `mapstructure:"interval_seconds" validate:"gt=0"`
	Window             string  `mapstructure:"window"`
	ThresholdSigma     float64 `mapstructure:"threshold_sigma" validate:"gt=0"`
	DedupWindowSeconds int     `mapstructure:"dedup_window_seconds" validate:"gt=0"`
}

type OrchestratorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds" validate:"gt=0"`
	BatchSize       int `mapstructure:"batch_size" validate:"gt=0"`
}

type ApprovalConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"gt=0"`
}

type WorkflowsConfig struct {
	Directory string `mapstructure:"directory" validate:"required"`
}

type InfluxConfig struct {
	URL   string `mapstructure:"url" validate:"required,url"`
	Token string `mapstructure:"token"`
	Org   string `mapstructure:"org" validate:"required"`
}

type SlackConfig struct {
	IncidentChannel string `mapstructure:"incident_channel" validate:"required"`
}

type ConfluenceConfig struct {
	AncestorID string `mapstructure:"ancestor_id"`
	Space      string `mapstructure:"space"`
	Domain     string `mapstructure:"domain"`
}

func (c *Config) DetectionInterval() time.Duration {
	return time.Duration(c.Detection.IntervalSeconds) * time.Second
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Detection.DedupWindowSeconds) * time.Second
}

func (c *Config) OrchestratorInterval() time.Duration {
	return time.Duration(c.Orchestrator.IntervalSeconds) * time.Second
}

func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.TimeoutSeconds) * time.Second
}
