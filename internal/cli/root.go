// Package cli implements the chat-digest commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-digest/internal/biz"
	"github.com/DevRickLin/chat-digest/internal/conf"
	"github.com/DevRickLin/chat-digest/internal/data"
	"github.com/DevRickLin/chat-digest/internal/infra/feishu"
	"github.com/DevRickLin/chat-digest/internal/infra/openai"
	"github.com/DevRickLin/chat-digest/internal/logger"
	"github.com/DevRickLin/chat-digest/internal/metrics"
)

// Version is set at build time
var Version = "dev"

type options struct {
	dbPath  string
	envFile string
	json    bool
}

// NewRootCmd builds the top-level command with all subcommands attached
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chat-digest",
		Short:         "Windowed chat ingestion and analysis",
		Long:          "Scans work chats on a schedule, stores new messages and writes one structured report per chat per window.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					fmt.Fprintf(os.Stderr, "warning: %s: %v\n", opts.envFile, err)
				}
				return
			}
			// Missing .env is fine, the environment may already be set
			_ = godotenv.Load()
		},
	}

	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "Database path (default: $DATABASE_PATH or ~/.chat-digest/digest.db)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load environment from this file instead of ./.env")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print JSON instead of styled text")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newFiltersCmd(opts),
		newChatsCmd(opts),
		newReportsCmd(opts),
		newUsageCmd(opts),
		newCleanupCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

// Execute runs the root command and reports the error on stderr
func Execute(ctx context.Context) error {
	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

// app holds everything a command needs once configuration is loaded
type app struct {
	cfg     *conf.Config
	repos   *data.Repositories
	uc      *biz.Usecases
	metrics *metrics.Metrics
}

// appMode selects which external clients a command needs
type appMode int

const (
	modeQuery    appMode = iota // Database only
	modeNotify                  // Database and Feishu, to deliver digests
	modePipeline                // Database, Feishu and the language model
)

// openApp loads configuration, opens the database and wires usecases along
// with the clients the mode needs.
func openApp(ctx context.Context, opts *options, mode appMode) (*app, error) {
	cfg := conf.LoadFromEnv()
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}

	validate := cfg.Validate
	switch mode {
	case modeNotify:
		validate = cfg.ValidateNotify
	case modePipeline:
		validate = cfg.ValidatePipeline
	}
	if err := validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.Log)

	var feishuClient *feishu.Client
	var llmClient *openai.Client
	if mode != modeQuery {
		feishuClient = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.PageSize)
	}
	if mode == modePipeline {
		llmClient = openai.NewClient(cfg.LLM.ToOpenAIConfig())
	}

	repos, err := data.NewRepositories(cfg.DBPath, feishuClient, llmClient)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	m := metrics.NewMetrics()
	uc := biz.NewUsecases(cfg, repos, m)

	if err := uc.Filter.SeedFilters(ctx, cfg.Prompts.SeedFilters()); err != nil {
		repos.Close()
		return nil, err
	}

	return &app{cfg: cfg, repos: repos, uc: uc, metrics: m}, nil
}

func (a *app) Close() error {
	return a.repos.Close()
}
