// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the Discord chat relay.
//
// # Usage
//
//	# Serve with defaults plus environment overrides
//	OPENAI_API_KEY=sk-... QA_CHAIN_API_HOST=http://qa:8000/ ./orchestrator serve
//
//	# Serve with a YAML file
//	./orchestrator --config relay.yaml serve
//
//	# Count tokens the way the context window does
//	echo "What is Lido?" | ./orchestrator tokens
//
//	# List the catalog models the configured key can use
//	./orchestrator models
//
// See services/orchestrator/config for the environment variables.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
