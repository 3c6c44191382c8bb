// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the relay service configuration.
//
// Values come from DefaultConfig, then an optional YAML file, then
// environment variables. The environment names match the ones the
// deployment already uses (OPENAI_API_HOST, QA_CHAIN_API_HOST, ...).
package config

import (
	"time"

	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

// Retrieval backends.
const (
	BackendHTTP     = "http"
	BackendWeaviate = "weaviate"
)

// DefaultSystemPrompt is used when neither the request nor the
// configuration supplies one.
const DefaultSystemPrompt = "You are ChatGPT, a large language model trained by OpenAI. " +
	"Follow the user's instructions carefully. Respond using markdown."

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Chat       ChatConfig       `yaml:"chat"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gte=1,lte=65535"`
	GinMode         string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type CompletionConfig struct {
	// Provider is "openai" or "azure".
	Provider     string        `yaml:"provider" validate:"oneof=openai azure"`
	Host         string        `yaml:"host" validate:"omitempty,url"`
	APIVersion   string        `yaml:"api_version"`
	Organization string        `yaml:"organization"`
	Deployment   string        `yaml:"deployment"`
	MaxTokens    int           `yaml:"max_tokens" validate:"gte=1"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`

	// APIKey is only ever read from OPENAI_API_KEY.
	APIKey string `yaml:"-"`
}

type RetrievalConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=http weaviate"`
	SearchURL       string        `yaml:"search_url" validate:"omitempty,url"`
	WeaviateURL     string        `yaml:"weaviate_url" validate:"omitempty,url"`
	ContentProperty string        `yaml:"content_property"`
	ChannelProperty string        `yaml:"channel_property"`
	Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`
}

type ChatConfig struct {
	DefaultModel string  `yaml:"default_model" validate:"required"`
	SystemPrompt string  `yaml:"system_prompt"`
	Temperature  float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxDocs      int     `yaml:"max_docs" validate:"gte=1,lte=500"`

	// Reserve is kept free for the completion. Zero or negative means none.
	Reserve  int    `yaml:"reserve"`
	Encoding string `yaml:"encoding" validate:"required"`
}

type TelemetryConfig struct {
	// OTelEndpoint is the OTLP gRPC collector, or "stdout" to print
	// spans. Empty disables tracing.
	OTelEndpoint string `yaml:"otel_endpoint"`
	ServiceName  string `yaml:"service_name" validate:"required"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto json text"`

	// Dir additionally writes daily JSON log files. Empty disables them.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a configuration that serves the openai provider
// against a search service on localhost.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            3000,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Completion: CompletionConfig{
			Provider:   "openai",
			Host:       "https://api.openai.com",
			APIVersion: "2023-03-15-preview",
			MaxTokens:  1000,
			Timeout:    2 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			Backend:         BackendHTTP,
			SearchURL:       "http://localhost:8000/",
			ContentProperty: "content",
			ChannelProperty: "channel",
			Timeout:         30 * time.Second,
		},
		Chat: ChatConfig{
			DefaultModel: datatypes.ModelGPT35Turbo,
			SystemPrompt: DefaultSystemPrompt,
			Temperature:  1,
			MaxDocs:      datatypes.DefaultMaxDocs,
			Reserve:      1000,
			Encoding:     "cl100k_base",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ask-discord-relay",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// ChatDefaults returns the server-side values applied to chat requests.
func (c Config) ChatDefaults() datatypes.ChatDefaults {
	return datatypes.ChatDefaults{
		Model:        c.Chat.DefaultModel,
		SystemPrompt: c.Chat.SystemPrompt,
		Temperature:  c.Chat.Temperature,
		MaxDocs:      c.Chat.MaxDocs,
	}
}
