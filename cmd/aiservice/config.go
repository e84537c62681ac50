// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// config is the full service configuration. Values come from an optional
// YAML file (CONFIG_FILE), then environment variables override the file.
type config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	CRM struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"crm"`

	Retrieval struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"retrieval"`

	Providers struct {
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		OpenAIOrgID     string `yaml:"openai_org_id"`
		OllamaEndpoint  string `yaml:"ollama_endpoint"`
	} `yaml:"providers"`
}

// loadConfig reads the optional YAML file named by CONFIG_FILE, applies
// environment overrides, and validates the result.
func loadConfig() (*config, error) {
	cfg := &config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "REDIS_PASSWORD")
	overrideString(&cfg.CRM.BaseURL, "CRM_BASE_URL")
	overrideString(&cfg.CRM.APIKey, "CRM_API_KEY")
	overrideString(&cfg.Retrieval.BaseURL, "SEARCH_BASE_URL")
	overrideString(&cfg.Retrieval.APIKey, "SEARCH_API_KEY")
	overrideString(&cfg.Providers.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	overrideString(&cfg.Providers.OpenAIAPIKey, "OPENAI_API_KEY")
	overrideString(&cfg.Providers.OpenAIOrgID, "OPENAI_ORG_ID")
	overrideString(&cfg.Providers.OllamaEndpoint, "OLLAMA_ENDPOINT")

	if raw := os.Getenv("REDIS_DB"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
		}
		cfg.Redis.DB = n
	}

	if cfg.Port == "" {
		cfg.Port = "8082"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CRM.BaseURL != "" && cfg.CRM.APIKey == "" {
		return nil, fmt.Errorf("CRM_API_KEY is required when CRM_BASE_URL is set")
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}
