// Package config holds the process configuration for the engram server.
package config

import (
	"fmt"

	"github.com/engramhq/engram/internal/logging"
)

// insecureDefaultPassword is refused outside development environments.
const insecureDefaultPassword = "password"

// Config holds all configuration for the engram server process.
type Config struct {
	// Graph backend connection.
	GraphAddr     string `koanf:"graph_addr"`
	GraphPassword string `koanf:"graph_password"`
	GraphName     string `koanf:"graph_name"`

	// LLM extractor backend.
	LLMAPIKey      string `koanf:"llm_api_key"`
	LLMBaseURL     string `koanf:"llm_base_url"`
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`

	// GroupID is the default namespace applied when a caller omits one.
	// If empty a random one is minted at startup.
	GroupID string `koanf:"group_id"`

	// RootGroupID is the single namespace permitted to invoke clear_graph.
	RootGroupID string `koanf:"root_group_id"`

	// Schema discovery. SchemasDir is the project schema directory;
	// SchemaSelector is empty (load all) or a comma-separated list of
	// immediate subdirectory names. RootSchemasDir holds the shared base
	// schemas and is scanned only when IncludeRootSchemas is set.
	SchemasDir         string `koanf:"schemas_dir"`
	SchemaSelector     string `koanf:"schemas"`
	RootSchemasDir     string `koanf:"root_schemas_dir"`
	IncludeRootSchemas bool   `koanf:"include_root_schemas"`

	// Transport is "sse" or "stdio".
	Transport string `koanf:"transport"`
	HTTPAddr  string `koanf:"http_addr"`

	// Environment gates development-only relaxations ("dev"/"development").
	Environment string `koanf:"environment"`

	LogLevel string `koanf:"log_level"`

	// DestroyGraph clears all graph data before serving.
	DestroyGraph bool `koanf:"destroy_graph"`

	// Tracing (OTLP gRPC). Disabled unless an endpoint is configured.
	TracingEnabled  bool   `koanf:"tracing_enabled"`
	TracingEndpoint string `koanf:"tracing_endpoint"`
}

// Default returns the baseline configuration before flags and file overrides.
func Default() *Config {
	return &Config{
		GraphAddr:          "localhost:6379",
		GraphName:          "engram",
		Model:              "gpt-4o-mini",
		EmbeddingModel:     "text-embedding-3-small",
		RootGroupID:        "root",
		RootSchemasDir:     "./schemas",
		IncludeRootSchemas: true,
		Transport:          "sse",
		HTTPAddr:           ":8080",
		LogLevel:           "info",
	}
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "dev" || c.Environment == "development"
}

// Validate checks the configuration for fatal misconfiguration.
func (c *Config) Validate() error {
	if c.GraphAddr == "" {
		return fmt.Errorf("graph address must not be empty")
	}
	if c.GraphName == "" {
		return fmt.Errorf("graph name must not be empty")
	}
	if c.GraphPassword == insecureDefaultPassword && !c.IsDevelopment() {
		return fmt.Errorf("default graph password %q is insecure and not allowed outside development environments; set a strong password", insecureDefaultPassword)
	}
	if c.Transport != "sse" && c.Transport != "stdio" {
		return fmt.Errorf("invalid transport %q (must be 'sse' or 'stdio')", c.Transport)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return fmt.Errorf("tracing enabled but no endpoint configured")
	}
	return nil
}
