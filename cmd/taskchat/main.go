package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskchat/internal/backend"
	"taskchat/internal/config"
	"taskchat/internal/logging"
	"taskchat/internal/nlu"
	"taskchat/internal/orchestrator"
	"taskchat/internal/server"
	"taskchat/internal/store"
)

const version = "0.1.0"

// defaultDevToken authenticates the local single-user setup when no token
// registry is configured.
const defaultDevToken = "local-dev-token"

var (
	// Global flags
	cfgPath      string
	verbose      bool
	hierarchical bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "taskchat",
	Short: "taskchat - natural-language task management assistant",
	Long: `taskchat turns plain-English requests into task operations.

It classifies each message into an intent (create, update, delete, list,
search, filter, sort, complete, profile lookup), extracts the entities the
operation needs, gates destructive actions behind confirmation, and keeps
per-conversation state with a TTL.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat(cmd.Context())
	},
}

// serveCmd runs the HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat pipeline over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		agent, tasks, err := buildAgent(ctx)
		if err != nil {
			return err
		}
		defer tasks.Close()

		sweeper := store.NewSweeper(cfg.Conversation.SweepInterval, agent.Sweepables()...)
		sweeper.Start(ctx)
		defer sweeper.Stop()

		srv := server.New(cfg.Server.Addr, agent, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// chatCmd starts the interactive REPL
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat(cmd.Context())
	},
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskchat version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskchat %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "taskchat.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&hierarchical, "hierarchical", false, "execute multi-intent messages in priority order")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildAgent wires the pipeline from configuration: SQLite task backend,
// static auth with the local dev user, and the optional Gemini collaborator.
func buildAgent(ctx context.Context) (*orchestrator.Agent, *backend.SQLiteBackend, error) {
	tasks, err := backend.NewSQLiteBackend(cfg.Backend.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open task backend: %w", err)
	}

	auth := backend.NewStaticAuthValidator()
	auth.Register(devToken(), backend.UserInfo{
		UserID: "local",
		Name:   "Local User",
		Email:  "local@taskchat.dev",
	})

	opts := []orchestrator.Option{
		orchestrator.WithSessionTTL(cfg.Conversation.SessionTTL),
		orchestrator.WithConfirmationTTL(cfg.Confirmation.TTL),
	}
	if hierarchical {
		opts = append(opts, orchestrator.WithHierarchicalOrdering())
	}

	if cfg.GenAI.APIKey != "" {
		client, err := nlu.NewGenAIClient(ctx, cfg.GenAI.APIKey, cfg.GenAI.Model)
		if err != nil {
			tasks.Close()
			return nil, nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		opts = append(opts, orchestrator.WithExternalNLU(client, client, cfg.GenAI.Timeout))
		logger.Info("generative classification enabled", zap.String("model", cfg.GenAI.Model))
	} else {
		logger.Info("no GEMINI_API_KEY set, running rule-based only")
	}

	return orchestrator.New(logger, tasks, auth, opts...), tasks, nil
}

func devToken() string {
	if t := os.Getenv("TASKCHAT_DEV_TOKEN"); t != "" {
		return t
	}
	return defaultDevToken
}

func runInteractiveChat(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent, tasks, err := buildAgent(ctx)
	if err != nil {
		return err
	}
	defer tasks.Close()

	sweeper := store.NewSweeper(cfg.Conversation.SweepInterval, agent.Sweepables()...)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	fmt.Println("taskchat - type your request, or 'exit' to quit")

	token := devToken()
	conversationID := ""
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := agent.ProcessMessage(ctx, orchestrator.Request{
			Message:        line,
			AuthToken:      token,
			ConversationID: conversationID,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("error: %v\n", err)
			continue
		}

		conversationID = reply.ConversationID
		fmt.Println(reply.ResponseText)
		if len(reply.Suggestions) > 0 {
			fmt.Printf("  (try: %s)\n", strings.Join(reply.Suggestions, " | "))
		}
	}

	return scanner.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
