package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/at-ishikawa/ankigen/internal/inference"
)

type Config struct {
	Gemini      GeminiConfig      `mapstructure:"gemini"`
	Augment     AugmentConfig     `mapstructure:"augment"`
	AnkiConnect AnkiConnectConfig `mapstructure:"ankiconnect"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AugmentConfig struct {
	// Workers bounds in-flight generation requests. The generation
	// service enforces a requests-per-minute ceiling.
	Workers               int    `mapstructure:"workers" validate:"min=1"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"min=1"`
	ScratchDirectory      string `mapstructure:"scratch_directory"`
}

type AnkiConnectConfig struct {
	URL string `mapstructure:"url" validate:"url"`
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ankigen")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("gemini.model", inference.DefaultModel)
	v.SetDefault("augment.workers", 15)
	v.SetDefault("augment.request_timeout_seconds", 60)
	v.SetDefault("augment.scratch_directory", filepath.Join(os.TempDir(), "ankigen"))
	v.SetDefault("ankiconnect.url", "http://localhost:8765")

	// Bind Gemini config to environment variables only (not from config file)
	if err := v.BindEnv("gemini.api_key", "GEMINI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind GEMINI_API_KEY environment variable: %w", err)
	}
	if err := v.BindEnv("gemini.model", "GEMINI_MODEL"); err != nil {
		return nil, fmt.Errorf("failed to bind GEMINI_MODEL environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}
