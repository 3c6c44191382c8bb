// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/thenextblock/ask-discord-ui/pkg/logging"
	"github.com/thenextblock/ask-discord-ui/pkg/tokenizer"
	"github.com/thenextblock/ask-discord-ui/services/llm"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/config"
	"github.com/thenextblock/ask-discord-ui/services/orchestrator/datatypes"
)

var (
	configPath string
	apiKeyFlag string

	rootCmd = &cobra.Command{
		Use:   "orchestrator",
		Short: "Retrieval-augmented chat relay for the Discord knowledge base",
		Long: `orchestrator answers chat requests by retrieving Discord messages from
the vector search service and streaming a completion back to the caller.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the relay HTTP server",
		RunE:  runServe,
	}

	tokensCmd = &cobra.Command{
		Use:   "tokens",
		Short: "Count the tokens of stdin with the configured encoding",
		RunE:  runTokens,
	}

	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List the catalog models available to the configured key",
		RunE:  runModels,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	modelsCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "key to list models for (defaults to OPENAI_API_KEY)")

	rootCmd.AddCommand(serveCmd, tokensCmd, modelsCmd)
}

func loadConfig() (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: cfg.Telemetry.ServiceName,
		LogDir:  cfg.Logging.Dir,
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger.Slog())
	return cfg, logger, nil
}

// sealKey moves the key into an enclave and wipes the plain copy from cfg.
func sealKey(cfg *config.Config) *memguard.Enclave {
	if cfg.Completion.APIKey == "" {
		return nil
	}
	enclave := memguard.NewEnclave([]byte(cfg.Completion.APIKey))
	cfg.Completion.APIKey = ""
	return enclave
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	defer memguard.Purge()

	key := sealKey(&cfg)
	slog.Info("Starting relay",
		"port", cfg.Server.Port,
		"provider", cfg.Completion.Provider,
		"retrieval_backend", cfg.Retrieval.Backend,
		"default_model", cfg.Chat.DefaultModel,
		"key_present", key != nil,
	)

	svc, err := orchestrator.New(cfg, orchestrator.Options{APIKey: key})
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}

func runTokens(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	input, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}

	factory := tokenizer.NewTiktokenFactory(cfg.Chat.Encoding)
	defer factory.Shutdown()
	tok, err := factory.New()
	if err != nil {
		return err
	}
	defer tok.Close()

	fmt.Fprintln(cmd.OutOrStdout(), tokenizer.Count(tok, string(input)))
	return nil
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	key := sealKey(&cfg)
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		Provider:     llm.Provider(cfg.Completion.Provider),
		Host:         cfg.Completion.Host,
		APIVersion:   cfg.Completion.APIVersion,
		Organization: cfg.Completion.Organization,
		Deployment:   cfg.Completion.Deployment,
		DefaultKey:   key,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	ids, err := client.ListModels(ctx, apiKeyFlag)
	if err != nil {
		return err
	}

	available := make(map[string]bool, len(ids))
	for _, id := range ids {
		available[id] = true
	}
	out := cmd.OutOrStdout()
	for _, m := range datatypes.CatalogModels() {
		if available[m.ID] {
			fmt.Fprintf(out, "%-20s %-20s %d\n", m.ID, m.Name, m.TokenLimit)
		}
	}
	return nil
}
