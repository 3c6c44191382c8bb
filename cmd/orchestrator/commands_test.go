// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_API_HOST", "OPENAI_API_TYPE", "OPENAI_API_VERSION",
		"OPENAI_ORGANIZATION", "AZURE_DEPLOYMENT_ID", "QA_CHAIN_API_HOST", "WEAVIATE_URL",
		"RETRIEVAL_BACKEND", "DEFAULT_MODEL", "DEFAULT_SYSTEM_PROMPT", "DEFAULT_TEMPERATURE",
		"PORT", "GIN_MODE", "OTEL_EXPORTER_OTLP_ENDPOINT", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })

	logger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(logger) })
}

func TestRunServe_InterruptShutsDownGracefully(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	port := freePort(t)
	writeConfig(t, fmt.Sprintf(`
server:
  port: %d
  shutdown_timeout: 2s
logging:
  level: error
  format: json
`, port))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(cmd, nil) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// The process survives SIGINT and the server drains through Run.
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after SIGINT")
	}
}

func TestRunTokens_CountsStdin(t *testing.T) {
	clearEnv(t)
	writeConfig(t, "logging:\n  level: error\n  format: json\n")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("hello world"))
	cmd.SetOut(&out)

	require.NoError(t, runTokens(cmd, nil))
	assert.Equal(t, "2\n", out.String())
}
