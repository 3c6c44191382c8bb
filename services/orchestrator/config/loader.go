// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

var validate = validator.New()

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the process environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. Unset and empty
// variables leave the current value alone.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	set := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	set("OPENAI_API_KEY", &c.Completion.APIKey)
	set("OPENAI_API_HOST", &c.Completion.Host)
	set("OPENAI_API_VERSION", &c.Completion.APIVersion)
	set("OPENAI_ORGANIZATION", &c.Completion.Organization)
	set("AZURE_DEPLOYMENT_ID", &c.Completion.Deployment)
	if v, ok := get("OPENAI_API_TYPE"); ok {
		c.Completion.Provider = strings.ToLower(v)
	}

	set("QA_CHAIN_API_HOST", &c.Retrieval.SearchURL)
	set("WEAVIATE_URL", &c.Retrieval.WeaviateURL)
	set("RETRIEVAL_BACKEND", &c.Retrieval.Backend)

	set("DEFAULT_MODEL", &c.Chat.DefaultModel)
	set("DEFAULT_SYSTEM_PROMPT", &c.Chat.SystemPrompt)
	if v, ok := get("DEFAULT_TEMPERATURE"); ok {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("DEFAULT_TEMPERATURE: %q is not a number", v)
		}
		c.Chat.Temperature = float32(t)
	}

	if v, ok := get("PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %q is not a number", v)
		}
		c.Server.Port = p
	}
	set("GIN_MODE", &c.Server.GinMode)
	set("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTelEndpoint)
	set("LOG_LEVEL", &c.Logging.Level)
	return nil
}

// Validate checks field rules and the rules that span fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.Retrieval.Backend {
	case BackendHTTP:
		if c.Retrieval.SearchURL == "" {
			return fmt.Errorf("invalid configuration: retrieval.search_url is required for the %s backend", BackendHTTP)
		}
	case BackendWeaviate:
		if c.Retrieval.WeaviateURL == "" {
			return fmt.Errorf("invalid configuration: retrieval.weaviate_url is required for the %s backend", BackendWeaviate)
		}
	}
	if c.Completion.Provider == "azure" && c.Completion.Host == "" {
		return fmt.Errorf("invalid configuration: completion.host is required for azure")
	}
	return nil
}
