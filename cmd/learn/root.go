package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mdcat/companion/internal/config"
	"github.com/mdcat/companion/internal/conn"
	"github.com/mdcat/companion/internal/domain"
	"github.com/mdcat/companion/internal/identity"
	"github.com/mdcat/companion/internal/remote"
)

var rootCmd = &cobra.Command{
	Use:           "learn",
	Short:         "MDCAT companion client",
	Long:          "learn chats with the MDCAT assistant and runs adaptive timed quizzes from the terminal.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("user", "", "Learner id (overrides USER_ID)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides AUTH_TOKEN)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(newChatCmd)
	rootCmd.AddCommand(quizCmd)
	rootCmd.AddCommand(quizzesCmd)
	rootCmd.AddCommand(tokenCmd)
}

// session bundles what every networked command needs.
type session struct {
	cfg    *config.ClientConfig
	creds  *identity.Credentials
	api    *remote.Client
	logger *slog.Logger
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadSession reads configuration and credentials. It fails with
// domain.ErrUnauthenticated when no learner is signed in.
func loadSession(cmd *cobra.Command) (*session, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		cfg.UserID = u
	}
	if tok, _ := cmd.Flags().GetString("token"); tok != "" {
		cfg.AuthToken = tok
	}

	creds := identity.NewCredentials(cfg.UserID, cfg.AuthToken)
	if !creds.Authenticated() {
		return nil, fmt.Errorf("%w: set USER_ID and AUTH_TOKEN or pass --user and --token", domain.ErrUnauthenticated)
	}

	logger := newLogger(cmd)
	slog.SetDefault(logger)

	return &session{
		cfg:    cfg,
		creds:  creds,
		api:    remote.NewClient(cfg.APIURL, creds, cfg.RequestTimeout, logger),
		logger: logger,
	}, nil
}

func (s *session) retryPolicy() conn.RetryPolicy {
	return conn.RetryPolicy{
		InitialDelay: s.cfg.Retry.InitialDelay,
		MaxDelay:     s.cfg.Retry.MaxDelay,
		Multiplier:   s.cfg.Retry.Multiplier,
		MaxAttempts:  s.cfg.Retry.MaxAttempts,
		Jitter:       0.1,
	}
}

// readLines delivers trimmed input lines until r is exhausted or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
