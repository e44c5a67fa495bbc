package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/extract"
	"github.com/engramhq/engram/internal/graph"
	"github.com/engramhq/engram/internal/ingest"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/mcp"
	"github.com/engramhq/engram/internal/mcp/tools"
	"github.com/engramhq/engram/internal/metrics"
	"github.com/engramhq/engram/internal/schema"
	"github.com/engramhq/engram/internal/tracing"
)

var (
	configPath         string
	graphAddr          string
	graphPassword      string
	graphName          string
	llmAPIKey          string
	llmBaseURL         string
	modelName          string
	embeddingModelName string
	groupID            string
	rootGroupID        string
	schemasDir         string
	schemaSelector     string
	rootSchemasDir     string
	includeRootSchemas bool
	transportType      string
	httpAddr           string
	environment        string
	destroyGraph       bool
	tracingEnabled     bool
	tracingEndpoint    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Engram MCP server",
	Long: `Start the Engram knowledge graph memory server.

Supports two transport modes:
  - sse: HTTP server with SSE and message endpoints (default)
  - stdio: Standard input/output mode (for subprocess-based MCP clients)

SSE mode also serves /healthz and Prometheus metrics on /metrics.`,
	Run: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&configPath, "config", getEnv("ENGRAM_CONFIG", ""), "Path to YAML configuration file (optional; flags override file values)")
	f.StringVar(&graphAddr, "graph-addr", getEnv("FALKORDB_ADDR", "localhost:6379"), "FalkorDB address (host:port)")
	f.StringVar(&graphPassword, "graph-password", getEnv("FALKORDB_PASSWORD", ""), "FalkorDB password")
	f.StringVar(&graphName, "graph-name", getEnv("ENGRAM_GRAPH", "engram"), "Name of the graph to use")
	f.StringVar(&llmAPIKey, "llm-api-key", getEnv("OPENAI_API_KEY", ""), "API key for the LLM backend")
	f.StringVar(&llmBaseURL, "llm-base-url", getEnv("OPENAI_BASE_URL", ""), "Base URL for an OpenAI-compatible LLM backend (optional)")
	f.StringVar(&modelName, "model", getEnv("MODEL_NAME", "gpt-4o-mini"), "Model used for entity extraction")
	f.StringVar(&embeddingModelName, "embedding-model", getEnv("EMBEDDING_MODEL", "text-embedding-3-small"), "Model used for embeddings")
	f.StringVar(&groupID, "group-id", getEnv("ENGRAM_GROUP_ID", ""), "Default namespace for graph data (random if empty)")
	f.StringVar(&rootGroupID, "root-group-id", getEnv("ENGRAM_ROOT_GROUP_ID", "root"), "Namespace allowed to clear the graph")
	f.StringVar(&schemasDir, "schemas-dir", getEnv("ENGRAM_SCHEMAS_DIR", ""), "Project schema directory (optional)")
	f.StringVar(&schemaSelector, "schemas", getEnv("ENGRAM_SCHEMAS", ""), "Comma-separated schema subdirectories to load (empty loads all)")
	f.StringVar(&rootSchemasDir, "root-schemas-dir", getEnv("ENGRAM_ROOT_SCHEMAS_DIR", "./schemas"), "Shared base schema directory")
	f.BoolVar(&includeRootSchemas, "include-root-schemas", getEnvBool("ENGRAM_INCLUDE_ROOT_SCHEMAS", true), "Load the shared base schemas before project schemas")
	f.StringVar(&transportType, "transport", getEnv("ENGRAM_TRANSPORT", "sse"), "Transport type: sse or stdio")
	f.StringVar(&httpAddr, "http-addr", getEnv("ENGRAM_HTTP_ADDR", ":8080"), "HTTP server address (host:port)")
	f.StringVar(&environment, "environment", getEnv("ENGRAM_ENV", ""), "Deployment environment (dev relaxes password checks)")
	f.BoolVar(&destroyGraph, "destroy-graph", false, "Drop all graph data before serving")
	f.BoolVar(&tracingEnabled, "tracing-enabled", getEnvBool("ENGRAM_TRACING_ENABLED", false), "Enable OTLP tracing")
	f.StringVar(&tracingEndpoint, "tracing-endpoint", getEnv("ENGRAM_TRACING_ENDPOINT", ""), "OTLP gRPC endpoint (host:port)")
}

// buildConfig layers defaults, the optional config file, and flags. Without
// a config file the flags (whose defaults come from the environment) are
// authoritative; with one, a flag overrides the file only when set
// explicitly on the command line.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if err := config.LoadFile(cfg, configPath); err != nil {
		return nil, err
	}

	fromFile := configPath != ""
	apply := func(name string, dst *string, val string) {
		if !fromFile || cmd.Flags().Changed(name) {
			*dst = val
		}
	}
	applyBool := func(name string, dst *bool, val bool) {
		if !fromFile || cmd.Flags().Changed(name) {
			*dst = val
		}
	}

	apply("graph-addr", &cfg.GraphAddr, graphAddr)
	apply("graph-password", &cfg.GraphPassword, graphPassword)
	apply("graph-name", &cfg.GraphName, graphName)
	apply("llm-api-key", &cfg.LLMAPIKey, llmAPIKey)
	apply("llm-base-url", &cfg.LLMBaseURL, llmBaseURL)
	apply("model", &cfg.Model, modelName)
	apply("embedding-model", &cfg.EmbeddingModel, embeddingModelName)
	apply("group-id", &cfg.GroupID, groupID)
	apply("root-group-id", &cfg.RootGroupID, rootGroupID)
	apply("schemas-dir", &cfg.SchemasDir, schemasDir)
	apply("schemas", &cfg.SchemaSelector, schemaSelector)
	apply("root-schemas-dir", &cfg.RootSchemasDir, rootSchemasDir)
	applyBool("include-root-schemas", &cfg.IncludeRootSchemas, includeRootSchemas)
	apply("transport", &cfg.Transport, transportType)
	apply("http-addr", &cfg.HTTPAddr, httpAddr)
	apply("environment", &cfg.Environment, environment)
	applyBool("destroy-graph", &cfg.DestroyGraph, destroyGraph)
	applyBool("tracing-enabled", &cfg.TracingEnabled, tracingEnabled)
	apply("tracing-endpoint", &cfg.TracingEndpoint, tracingEndpoint)

	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}

	cfg, err := buildConfig(cmd)
	HandleError(err, "Failed to load configuration")

	// Stdio transport owns stdout for the protocol; logs move to stderr.
	if cfg.Transport == "stdio" {
		logging.SetOutput(os.Stderr)
	}

	HandleError(cfg.Validate(), "Invalid configuration")

	// A log level from the config file applies unless --log-level was given.
	// Per-package overrides from the environment are kept.
	if !rootCmd.PersistentFlags().Changed("log-level") && cfg.LogLevel != "" {
		_, packageLevels, perr := parseLogLevelFlags(nil)
		HandleError(perr, "Failed to setup logging")
		HandleError(logging.Initialize(cfg.LogLevel, packageLevels), "Failed to setup logging")
	}

	if cfg.GroupID == "" {
		id := uuid.New()
		cfg.GroupID = fmt.Sprintf("graph_%x", id[:4])
	}

	logger := logging.GetLogger("serve")
	logger.Info("Starting Engram MCP Server v%s (transport: %s, namespace: %s)", Version, cfg.Transport, cfg.GroupID)

	provider, err := tracing.NewProvider(tracing.Config{
		Enabled:  cfg.TracingEnabled,
		Endpoint: cfg.TracingEndpoint,
	})
	HandleError(err, "Failed to initialize tracing")

	registry := schema.NewRegistry()
	if cfg.IncludeRootSchemas {
		HandleError(registry.LoadDir(cfg.RootSchemasDir, ""), "Failed to load base schemas")
	}
	if cfg.SchemasDir != "" {
		HandleError(registry.LoadDir(cfg.SchemasDir, cfg.SchemaSelector), "Failed to load project schemas")
	}
	registry.Freeze()

	clientConfig := graph.DefaultClientConfig()
	clientConfig.Addr = cfg.GraphAddr
	clientConfig.Password = cfg.GraphPassword
	clientConfig.GraphName = cfg.GraphName

	client := graph.NewClient(clientConfig)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	HandleError(client.Connect(startupCtx), "Failed to connect to FalkorDB")
	HandleError(client.Ping(startupCtx), "FalkorDB is not responding")

	if cfg.DestroyGraph {
		logger.Warn("destroy-graph is set, dropping graph %s", cfg.GraphName)
		HandleError(client.DropGraph(startupCtx), "Failed to drop graph")
	}

	backend := extract.NewOpenAIBackend(extract.OpenAIConfig{
		APIKey:         cfg.LLMAPIKey,
		BaseURL:        cfg.LLMBaseURL,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	extractor := extract.NewClient(backend)

	store := graph.NewStore(client, extractor, extractor)
	HandleError(store.BuildIndices(startupCtx), "Failed to build graph indices")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	engine := ingest.NewEngine(store, registry, m)

	engramServer := mcp.NewServer(tools.Deps{
		Store:          store,
		Queue:          engine,
		DefaultGroupID: cfg.GroupID,
		RootGroupID:    cfg.RootGroupID,
	}, Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal: %v, shutting down gracefully...", sig)
		cancel()
	}()

	switch cfg.Transport {
	case "sse":
		runSSE(ctx, logger, cfg, engramServer, promRegistry)
	case "stdio":
		logger.Info("Starting stdio transport")
		if err := mcpserver.ServeStdio(engramServer.MCPServer()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Stdio transport error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Draining ingestion queues...")
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ingestion shutdown error: %v", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown error: %v", err)
	}
	if err := client.Close(); err != nil {
		logger.Error("Error closing graph connection: %v", err)
	}
	logger.Info("Server stopped")
}

// runSSE serves the MCP SSE transport plus health and metrics endpoints
// until ctx is cancelled.
func runSSE(ctx context.Context, logger *logging.Logger, cfg *config.Config, engramServer *mcp.EngramServer, promRegistry *prometheus.Registry) {
	sseServer := mcpserver.NewSSEServer(
		engramServer.MCPServer(),
		mcpserver.WithSSEEndpoint("/sse"),
		mcpserver.WithMessageEndpoint("/message"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second, // Prevent Slowloris attacks
	}

	logger.Info("Starting HTTP server on %s (SSE endpoint: /sse)", cfg.HTTPAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("HTTP server error: %v", err)
	}
}
