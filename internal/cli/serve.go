package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/andywolf/issue-assistant/internal/analysis"
	"github.com/andywolf/issue-assistant/internal/cloud/gcp"
	"github.com/andywolf/issue-assistant/internal/config"
	"github.com/andywolf/issue-assistant/internal/events"
	"github.com/andywolf/issue-assistant/internal/github"
	"github.com/andywolf/issue-assistant/internal/llm"
	"github.com/andywolf/issue-assistant/internal/observability"
	"github.com/andywolf/issue-assistant/internal/security"
	"github.com/andywolf/issue-assistant/internal/server"
	"github.com/andywolf/issue-assistant/internal/version"
	prompts "github.com/andywolf/issue-assistant/prompts/analysis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analyze API",
	Long: `Serve POST /analyze_issue and GET /healthz.

The server fetches the issue from GitHub, asks the configured chat model
for a triage summary and returns the extracted JSON. Secrets can be given
inline, through the environment or as Secret Manager references.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.ValidateForServe(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	scrubber := security.NewScrubber()
	cleanup, err := setupLogging(ctx, cfg, scrubber, "issue-assistant-server")
	if err != nil {
		return err
	}
	defer cleanup()

	resolver := gcp.NewResolver()
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Secret Manager client")
		}
	}()

	apiKey, err := resolver.Resolve(ctx, cfg.LLM.APIKey, cfg.LLM.APIKeySecret)
	if err != nil {
		return fmt.Errorf("failed to resolve LLM API key: %w", err)
	}
	scrubber.AddSecret(apiKey, cfg.Langfuse.SecretKey)

	tokens, err := githubTokenSource(ctx, cfg, resolver, scrubber)
	if err != nil {
		return err
	}

	issues, err := github.NewClient(github.Options{
		BaseURL:     cfg.GitHub.BaseURL,
		TokenSource: tokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}

	tracer := observability.New(observability.LangfuseConfig{
		PublicKey: cfg.Langfuse.PublicKey,
		SecretKey: cfg.Langfuse.SecretKey,
		BaseURL:   cfg.Langfuse.BaseURL,
	})
	if lf, ok := tracer.(*observability.LangfuseTracer); ok {
		if err := lf.Ping(ctx); err != nil {
			logger.WithError(err).Warn("Langfuse is unreachable; traces may be dropped")
		}
	}
	defer func() {
		// ctx is already cancelled on shutdown.
		if err := tracer.Stop(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	prompt, err := prompts.LoadDir(cfg.Analysis.PromptDir)
	if err != nil {
		return fmt.Errorf("failed to load analysis prompt: %w", err)
	}

	analyzer, err := analysis.New(analysis.Deps{
		Issues:   issues,
		Prompt:   prompt,
		LLM:      llm.NewClient(llm.Config{BaseURL: cfg.LLM.BaseURL, APIKey: apiKey, Timeout: cfg.LLMTimeout()}),
		Tracer:   tracer,
		Scrubber: scrubber,
	}, analysis.Options{
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxIssueChars: cfg.Analysis.MaxIssueChars,
		StripHTML:     *cfg.Analysis.StripHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}

	var recorder events.Recorder = events.Discard{}
	if cfg.Server.HistoryFile != "" {
		sink, err := events.NewFileSink(cfg.Server.HistoryFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close history file")
			}
		}()
		recorder = sink
	}

	logger.WithFields(log.Fields{
		"addr":       cfg.Server.Addr,
		"model":      cfg.LLM.Model,
		"github_app": cfg.UsesGitHubApp(),
		"tracing":    cfg.Langfuse.PublicKey != "" && cfg.Langfuse.SecretKey != "",
		"history":    cfg.Server.HistoryFile,
	}).Info("Starting issue-assistant server")

	srv := server.New(analyzer, server.Options{
		Addr:            cfg.Server.Addr,
		RateLimit:       cfg.Server.RateLimit,
		TrustedProxies:  cfg.Server.TrustedProxies,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		Version:         version.Short(),
		Events:          recorder,
	})
	return srv.Run(ctx)
}

// githubTokenSource picks App credentials over a static token. A nil source
// means anonymous requests.
func githubTokenSource(ctx context.Context, cfg *config.Config, resolver *gcp.Resolver, scrubber *security.Scrubber) (oauth2.TokenSource, error) {
	if cfg.UsesGitHubApp() {
		pem, err := readPrivateKey(ctx, cfg, resolver)
		if err != nil {
			return nil, err
		}
		var opts []github.AppOption
		if cfg.GitHub.BaseURL != "" {
			opts = append(opts, github.WithAppBaseURL(cfg.GitHub.BaseURL))
		}
		src, err := github.NewAppTokenSource(cfg.GitHub.AppID, cfg.GitHub.InstallationID, pem, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to configure GitHub App: %w", err)
		}
		return src, nil
	}

	token, err := resolver.Resolve(ctx, cfg.GitHub.Token, cfg.GitHub.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve GitHub token: %w", err)
	}
	if token == "" {
		logger.Warn("No GitHub credentials configured; using unauthenticated requests")
		return nil, nil
	}
	scrubber.AddSecret(token)
	return github.StaticTokenSource(token), nil
}

func readPrivateKey(ctx context.Context, cfg *config.Config, resolver *gcp.Resolver) ([]byte, error) {
	if cfg.GitHub.PrivateKeyPath != "" {
		pem, err := os.ReadFile(cfg.GitHub.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read GitHub App private key: %w", err)
		}
		return pem, nil
	}

	pem, err := resolver.Resolve(ctx, "", cfg.GitHub.PrivateKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve GitHub App private key: %w", err)
	}
	return []byte(pem), nil
}
