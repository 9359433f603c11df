package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/hotnote/internal/config"
	"github.com/TobiSchelling/hotnote/internal/llm"
	"github.com/TobiSchelling/hotnote/internal/logging"
	"github.com/TobiSchelling/hotnote/internal/memory"
	"github.com/TobiSchelling/hotnote/internal/pipeline"
	"github.com/TobiSchelling/hotnote/internal/router"
	"github.com/TobiSchelling/hotnote/internal/routereval"
	"github.com/TobiSchelling/hotnote/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hotnote",
	Short:   "Search-grounded social media notes",
	Long:    "hotnote routes a topic to a domain profile, searches with tiered fallback, and drafts a note with three titles, a body and ten tags.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(evalRouterCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hotnote", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/hotnote/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure profiles, API keys, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and memory status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("LLM:")
		fmt.Printf("  Provider: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Printf("  Timeout: %s, retries: %d\n", cfg.LLM.Timeout(), cfg.LLM.MaxRetries)
		fmt.Println("\nSearch:")
		fmt.Printf("  Provider: %s (depth %s, max %d results)\n", cfg.Search.Provider, cfg.Search.Depth, cfg.Search.MaxResults)
		extract := "disabled"
		if cfg.Extract.Enabled {
			extract = fmt.Sprintf("%s, up to %d URLs", cfg.Extract.Provider, cfg.Extract.MaxURLs)
		}
		fmt.Printf("  Extract: %s\n", extract)

		fmt.Println("\nProfiles:")
		for _, id := range cfg.ProfileIDs() {
			p := cfg.Profiles[id]
			marker := " "
			if id == cfg.DefaultProfile {
				marker = "*"
			}
			fmt.Printf("  %s %s: primary=%s secondary=%s\n", marker, id,
				strings.Join(p.Primary, ","), strings.Join(p.Secondary, ","))
		}

		store, err := openMemory(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		recent, err := store.RecentGenerations(cmd.Context(), 0)
		if err != nil {
			return fmt.Errorf("reading history: %w", err)
		}
		fmt.Println("\nMemory:")
		fmt.Printf("  Backend: %s (topic TTL %s)\n", cfg.Memory.Backend, cfg.Memory.TTL())
		fmt.Printf("  Stored generations: %d\n", len(recent))
		return nil
	},
}

// --- generate command ---

var (
	generateProfile string
	generateMeta    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate a note for a topic and print it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := strings.TrimSpace(strings.Join(args, " "))
		if topic == "" {
			return fmt.Errorf("topic must not be blank")
		}

		ctx := cmd.Context()
		pipe, closeFn, err := pipeline.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		result := pipe.Generate(ctx, pipeline.Request{Topic: topic, Profile: generateProfile})

		if verbose {
			for i, step := range result.Steps {
				fmt.Fprintf(os.Stderr, "Step %d/%d: %s\n", i+1, len(result.Steps), step.Name)
				if step.Err != nil {
					fmt.Fprintf(os.Stderr, "  Error: %v\n", step.Err)
				} else {
					fmt.Fprintf(os.Stderr, "  %s\n", step.Summary)
				}
			}
		}

		if generateMeta {
			enc := json.NewEncoder(os.Stdout)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Meta)
		}

		if result.Meta.Error != nil {
			e := result.Meta.Error
			return fmt.Errorf("%s stage failed (%s): %s", e.Stage, e.Kind, e.Message)
		}
		fmt.Print(result.Markdown)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateProfile, "profile", "p", "", "Topic profile to use instead of routing")
	generateCmd.Flags().BoolVar(&generateMeta, "meta", false, "Print the meta trace as JSON instead of the note")
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMemory(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		gens, err := store.RecentGenerations(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			fmt.Println("No generations yet. Create one with: hotnote generate <topic>")
			return nil
		}

		for _, g := range gens {
			status := "ok"
			if g.Markdown == "" {
				status = "failed"
			}
			fmt.Printf("  %s  %-8s %-7s %s  [%s]\n",
				g.CreatedAt.Local().Format("2006-01-02 15:04"), g.Profile, status, g.Topic, g.ID)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of generations to show")
}

// --- serve command ---

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		listen := cfg.Server
		if cmd.Flags().Changed("port") {
			listen.Port = servePort
		}
		if cmd.Flags().Changed("host") {
			listen.Host = serveHost
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe, closeFn, err := pipeline.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		if cfg.Memory.PruneSchedule != "" {
			pruner, err := memory.NewPruner(pipe.Memory(), cfg.Memory.PruneSchedule, logger)
			if err != nil {
				return err
			}
			pruner.Start()
			defer pruner.Stop()
		}

		srv, err := server.New(pipe, pipe.Memory(), logger)
		if err != nil {
			return err
		}

		fmt.Printf("Starting server at http://%s\n", listen.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, listen.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Interface to bind (0.0.0.0 for all)")
}

// --- memory command ---

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage the topic memory",
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired topic entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openMemory(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Prune(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d expired entries\n", n)
		return nil
	},
}

func init() {
	memoryCmd.AddCommand(memoryPruneCmd)
}

// --- eval-router command ---

var (
	evalInput      string
	evalOutputMD   string
	evalOutputJSON string
	evalLimit      int
)

var evalRouterCmd = &cobra.Command{
	Use:   "eval-router",
	Short: "Evaluate topic router accuracy against labeled JSONL samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, err := routereval.LoadFile(evalInput, evalLimit)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		provider, err := llm.CreateProvider(ctx, cfg.LLM, logger)
		if err != nil {
			return err
		}
		classifier := router.NewLLMClassifier(llm.WithLogging(provider, cfg.LLM.Provider, logger), cfg.Profiles, cfg.DefaultProfile)
		rt := router.New(cfg, classifier, nil, logger)

		rows := routereval.Predict(ctx, rt, samples)
		metrics := routereval.Compute(rows)

		mdPath, jsonPath := routereval.DefaultPaths(time.Now())
		if evalOutputMD != "" {
			mdPath = evalOutputMD
		}
		if evalOutputJSON != "" {
			jsonPath = evalOutputJSON
		}

		if err := routereval.WriteFile(mdPath, []byte(routereval.Markdown(evalInput, metrics, rows))); err != nil {
			return err
		}
		data, err := routereval.JSON(evalInput, metrics, rows)
		if err != nil {
			return err
		}
		if err := routereval.WriteFile(jsonPath, data); err != nil {
			return err
		}

		fmt.Printf("[router-eval] accuracy=%.2f%% total=%d correct=%d\n", metrics.Accuracy*100, metrics.Total, metrics.Correct)
		fmt.Printf("[router-eval] markdown=%s\n", mdPath)
		fmt.Printf("[router-eval] json=%s\n", jsonPath)
		return nil
	},
}

func init() {
	evalRouterCmd.Flags().StringVar(&evalInput, "input", "eval/router_labeled.sample.jsonl", "JSONL file with topic, gold_profile and optional note")
	evalRouterCmd.Flags().StringVar(&evalOutputMD, "output-md", "", "Markdown report path (default eval/reports/router_eval_<timestamp>.md)")
	evalRouterCmd.Flags().StringVar(&evalOutputJSON, "output-json", "", "JSON report path (default eval/reports/router_eval_<timestamp>.json)")
	evalRouterCmd.Flags().IntVar(&evalLimit, "limit", 0, "Limit evaluated samples (0 means all)")
}

func openMemory(ctx context.Context) (memory.Store, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return memory.Open(ctx, cfg, logger)
}
