package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/internal/logging"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // Supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Engram - Knowledge Graph Memory Server",
	Long: `Engram is a temporal knowledge graph memory server for AI agents.
It ingests episodes (text, conversations, JSON documents), extracts entities
and relationships with an LLM, stores them in FalkorDB, and exposes search
and management tools over the Model Context Protocol.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level graph.client=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level graph.client=debug --log-level ingest=warn")

	rootCmd.AddCommand(serveCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// setupLog initializes the logging system with parsed log level flags.
// Priority: CLI flags > Environment variables > Initialize default
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags parses CLI flags and environment variables.
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "graph.client=debug"], or ["info"]
// Env vars: LOG_LEVEL_GRAPH_CLIENT=debug (package name uppercased, dots to underscores)
//
// Returns: (defaultLevel, packageLevels map, error)
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	// Environment variables first (lower priority).
	for _, envPair := range os.Environ() {
		if strings.HasPrefix(envPair, "LOG_LEVEL_") {
			parts := strings.SplitN(envPair, "=", 2)
			if len(parts) != 2 {
				continue
			}
			result[convertEnvKeyToPackageName(parts[0])] = parts[1]
		}
	}

	// CLI flags override env vars.
	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			// Bare level like "debug" sets the default.
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if _, err := logging.ParseLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if _, err := logging.ParseLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}

	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_GRAPH_CLIENT -> graph.client
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool reads a boolean environment variable; unset or unparseable
// values fall back to the default.
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
