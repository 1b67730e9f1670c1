package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/internal/archive"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/gateway"
	"github.com/parley-chat/parley/internal/relay"
	"github.com/parley-chat/parley/internal/telemetry"
)

type serveOptions struct {
	addr          string
	httpAddr      string
	maxClients    int
	historySize   int
	requireAuth   bool
	authSecret    string
	archiveBucket string
	archivePrefix string
	logLevel      string
	logJSON       bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay",
		Long: `Run the TCP chat relay, with an optional HTTP gateway alongside.

The relay listens for framed TCP connections; the gateway adds a
websocket entrance, Prometheus metrics, and the JSON account API.

Examples:
  parley serve
  parley serve --addr :7465 --history 100
  parley serve --http-addr :8080 --require-auth
  parley serve --archive-bucket chat-logs --archive-prefix rooms/lobby`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":7465", "TCP address to listen on")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "HTTP gateway address (empty disables the gateway)")
	cmd.Flags().IntVar(&opts.maxClients, "max-clients", 0, "Maximum concurrent clients (0 = unlimited)")
	cmd.Flags().IntVar(&opts.historySize, "history", 50, "Messages replayed to late joiners (0 disables replay)")
	cmd.Flags().BoolVar(&opts.requireAuth, "require-auth", false, "Require a login token in the handshake")
	cmd.Flags().StringVar(&opts.authSecret, "auth-secret", "", "HMAC secret for handshake tokens (empty = random per process)")
	cmd.Flags().StringVar(&opts.archiveBucket, "archive-bucket", "", "S3 bucket for chat transcripts (empty disables archiving)")
	cmd.Flags().StringVar(&opts.archivePrefix, "archive-prefix", "transcripts", "Key prefix for archived transcripts")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs")

	return cmd
}

func runServe(opts serveOptions) error {
	logger, err := newLogger(opts.logLevel, opts.logJSON)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	metrics := telemetry.NewMetrics()

	// The account layer always exists; --require-auth decides whether
	// the handshake demands its tokens.
	var secret []byte
	if opts.authSecret != "" {
		secret = []byte(opts.authSecret)
	}
	accounts := auth.NewStore(logger)
	tokens := auth.NewTokenIssuer(secret)

	var sink *archive.S3Sink
	if opts.archiveBucket != "" {
		s3Client, err := archive.NewClientFromEnv()
		if err != nil {
			return err
		}
		sink, err = archive.NewS3Sink(s3Client, archive.S3SinkConfig{
			Bucket: opts.archiveBucket,
			Prefix: opts.archivePrefix,
		}, logger)
		if err != nil {
			return err
		}
		logger.Info("transcript archiving enabled",
			"bucket", opts.archiveBucket, "prefix", opts.archivePrefix)
	}

	config := relay.DefaultServerConfig().
		WithAddress(opts.addr).
		WithMaxClients(opts.maxClients).
		WithHistorySize(opts.historySize)
	config.RequireAuth = opts.requireAuth

	srvOpts := &relay.ServerOptions{
		Metrics: metrics,
		Logger:  logger,
	}
	if sink != nil {
		srvOpts.Recorder = sink
	}
	if opts.requireAuth {
		srvOpts.Verifier = tokens
	}
	srv := relay.NewServerWithOptions(config, srvOpts)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var gw *gateway.Gateway
	if opts.httpAddr != "" {
		gw = gateway.NewGatewayWithOptions(srv, gateway.Config{
			Addr: opts.httpAddr,
			// Login tokens guard entry; browser clients come from
			// anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		}, &gateway.GatewayOptions{
			Accounts: accounts,
			Tokens:   tokens,
			Logger:   logger,
		})
		go func() {
			if err := gw.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, relay.ErrServerClosed) {
			return err
		}
		return nil

	case <-shutdown:
		logger.Info("shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if gw != nil {
		if err := gw.Shutdown(ctx); err != nil {
			logger.Error("gateway shutdown error", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("relay shutdown error", "error", err)
		return err
	}
	if sink != nil {
		if err := sink.Close(ctx); err != nil {
			logger.Error("archive close error", "error", err)
		}
	}
	return nil
}

func newLogger(level string, jsonOut bool) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if jsonOut {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler), nil
}
