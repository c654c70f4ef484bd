package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/parley/pkg/authguard"
	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/eventbus"
	"github.com/go-go-golems/parley/pkg/persistence/snapshotstore"
	"github.com/go-go-golems/parley/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/wire"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal client for streaming chat backends",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"))
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect to a conversation and stream replies to stdout",
	RunE:  runChat,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("base-url", "http://localhost:8080", "backend base URL")
	pf.String("token", "", "session token")
	pf.String("log-level", "info", "zerolog level (trace, debug, info, warn, error)")

	cf := chatCmd.Flags()
	cf.String("conv-id", "", "conversation id (required)")
	cf.String("db", "", "sqlite file for transcript persistence (empty: in-memory)")
	cf.String("snapshot-dir", "", "directory for streaming-state snapshots (empty: in-memory)")
	cf.String("renew-path", "", "credential renewal endpoint, e.g. /auth/renew")
	cf.Bool("redis", false, "use Redis Streams for the frame bus")
	cf.String("redis-addr", "localhost:6379", "redis address")

	rootCmd.AddCommand(chatCmd)
	_ = viper.BindPFlags(pf)
	_ = viper.BindPFlags(cf)
	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	convID := viper.GetString("conv-id")
	if convID == "" {
		return errors.New("--conv-id is required")
	}
	cfg := session.Config{
		BaseURL:        viper.GetString("base-url"),
		Token:          viper.GetString("token"),
		ConversationID: convID,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, cleanup, err := buildOptions(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	guard := buildGuard(cfg)
	if guard != nil {
		if err := preloadHistory(ctx, guard.Client(), cfg); err != nil {
			log.Warn().Err(err).Msg("could not preload conversation history")
		}
		cfg.Token = guard.Token()
	}

	out := bufio.NewWriter(os.Stdout)
	opts = append(opts, session.WithEventHandler(func(ev wire.Event) {
		printEvent(out, ev)
	}))

	s, err := session.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return readInput(egCtx, s)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		if s.Reducer().Streaming() {
			_ = s.Cancel()
		}
		// unblock the stdin reader
		_ = os.Stdin.Close()
		return nil
	})
	err = eg.Wait()
	_ = out.Flush()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildOptions(ctx context.Context) ([]session.Option, func(), error) {
	var opts []session.Option
	closers := []func(){}
	cleanup := func() {
		for _, f := range closers {
			f()
		}
	}

	if db := viper.GetString("db"); db != "" {
		dsn, err := transcriptstore.SQLiteDSNForFile(db)
		if err != nil {
			return nil, cleanup, errors.Wrap(err, "derive sqlite dsn")
		}
		store, err := transcriptstore.NewSQLiteStore(dsn)
		if err != nil {
			return nil, cleanup, errors.Wrap(err, "open transcript store")
		}
		closers = append(closers, func() { _ = store.Close() })
		opts = append(opts, session.WithTranscriptStore(store))
	}
	if dir := viper.GetString("snapshot-dir"); dir != "" {
		store, err := snapshotstore.NewFileStore(dir)
		if err != nil {
			return nil, cleanup, errors.Wrap(err, "open snapshot store")
		}
		opts = append(opts, session.WithSnapshotStore(store))
	}
	if viper.GetBool("redis") {
		bus, err := eventbus.Build(eventbus.Settings{
			RedisEnabled: true,
			RedisAddr:    viper.GetString("redis-addr"),
		})
		if err != nil {
			return nil, cleanup, errors.Wrap(err, "build redis frame bus")
		}
		closers = append(closers, func() { _ = bus.Close() })
		opts = append(opts, session.WithBus(bus))
	}
	return opts, cleanup, nil
}

// buildGuard wraps the REST channel with single-flight credential renewal
// when a renewal endpoint is configured.
func buildGuard(cfg session.Config) *authguard.Guard {
	renewPath := viper.GetString("renew-path")
	if renewPath == "" {
		return nil
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	var guard *authguard.Guard
	guard = authguard.New(nil, cfg.Token,
		func(ctx context.Context) (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+renewPath, nil)
			if err != nil {
				return "", err
			}
			resp, err := guard.Client().Do(req)
			if err != nil {
				return "", err
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				return "", errors.Errorf("renewal endpoint returned %d", resp.StatusCode)
			}
			var body struct {
				Token string `json:"token"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return "", errors.Wrap(err, "decode renewal response")
			}
			return body.Token, nil
		},
		authguard.WithRenewPath(renewPath),
		authguard.WithSessionInvalidHandler(func(err error) {
			log.Error().Err(err).Msg("session invalidated, please log in again")
		}),
	)
	return guard
}

// preloadHistory fetches previously committed messages over REST and prints
// them, so the terminal shows the conversation so far before the live
// stream attaches.
func preloadHistory(ctx context.Context, client *http.Client, cfg session.Config) error {
	url := strings.TrimRight(cfg.BaseURL, "/") + "/api/conversations/" + cfg.ConversationID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("history endpoint returned %d", resp.StatusCode)
	}
	var msgs []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return errors.Wrap(err, "decode history")
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

func readInput(ctx context.Context, s *session.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return context.Canceled
		case "/cancel":
			if err := s.Cancel(); err != nil {
				log.Warn().Err(err).Msg("cancel failed")
			}
			continue
		case "/retry":
			s.ManualRetry()
			continue
		case "/status":
			st, attempts := s.ConnectionStatus()
			fmt.Printf("connection: %s (attempts=%d)\n", st, attempts)
			continue
		}
		if err := s.SendMessage(ctx, line, nil); err != nil {
			log.Warn().Err(err).Msg("send failed")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return context.Canceled
}

func printEvent(out *bufio.Writer, ev wire.Event) {
	switch e := ev.(type) {
	case *wire.StreamChunk:
		_, _ = out.WriteString(e.Content)
		_ = out.Flush()
	case *wire.StreamEnd:
		_, _ = out.WriteString("\n")
		_ = out.Flush()
	case *wire.StreamCancelled:
		_, _ = out.WriteString("\n[cancelled]\n")
		_ = out.Flush()
	case *wire.ToolCallStart:
		fmt.Fprintf(out, "\n[tool %s started]\n", e.ToolName)
		_ = out.Flush()
	case *wire.ToolCallEnd:
		fmt.Fprintf(out, "[tool %s finished in %dms] %s\n", e.ToolName, e.DurationMs, e.ResultPreview)
		_ = out.Flush()
	case *wire.TitleUpdated:
		fmt.Fprintf(out, "[title: %s]\n", e.Title)
		_ = out.Flush()
	case *wire.Error:
		fmt.Fprintf(out, "\n[error %s] %s\n", e.Code, e.Detail)
		_ = out.Flush()
	}
}
