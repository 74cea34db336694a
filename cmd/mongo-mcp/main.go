package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpmongo "github.com/vikashloomba/mongo-mcp-go/pkg/mcp-mongo"
	"github.com/vikashloomba/mongo-mcp-go/pkg/mongostore"
	"github.com/vikashloomba/mongo-mcp-go/pkg/outputgate"
	"github.com/vikashloomba/mongo-mcp-go/pkg/sideband"
	"github.com/vikashloomba/mongo-mcp-go/pkg/storemgr"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mongo-mcp [connection-string]",
		Short: "Serve a MongoDB database to MCP clients over stdio",
		Long: `Expose the collections of one MongoDB database as MCP resources and a
"query" tool. JSON-RPC is read from stdin and written to stdout; diagnostics
go to a sideband log file so nothing else ever reaches stdout.

The connection string may also be given as MONGODB_URI.`,
		Args:         cobra.MaximumNArgs(1),
		Version:      version,
		SilenceUsage: true,
	}
	cmd.SetOut(os.Stderr)

	flags := cmd.Flags()
	configFile := flags.String("config", "", "TOML config file applied over the environment")
	logFile := flags.String("log-file", "", "sideband log path (default $TMPDIR/"+sideband.DefaultFileName+")")
	database := flags.String("database", "", "database to expose (default: from the connection string)")
	noPreconnect := flags.Bool("no-preconnect", false, "connect on the first request instead of at startup")
	logRPC := flags.Bool("log-jsonrpc", false, "record JSON-RPC traffic in the sideband log")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.applyFile(*configFile); err != nil {
			return err
		}
		cfg.applyArgs(args)
		if flags.Changed("log-file") {
			cfg.LogFile = *logFile
		}
		if flags.Changed("database") {
			cfg.Client.Database = *database
		}
		if *noPreconnect {
			cfg.Preconnect = false
		}
		if *logRPC {
			cfg.LogJSONRPC = true
		}
		if err := cfg.validate(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg, os.Stdout, os.Stdin)
	}
	return cmd
}

// run wires the gate, the sideband log, the connection manager and the
// server, then serves until the peer disconnects or a signal arrives.
func run(parent context.Context, cfg Config, stdout io.Writer, stdin io.ReadCloser) error {
	if parent == nil {
		parent = context.Background()
	}
	gate := outputgate.New(stdout)
	if stdout == os.Stdout {
		restore, err := gate.Capture()
		if err != nil {
			return fmt.Errorf("capture stdout: %w", err)
		}
		defer restore()
	}

	level, _ := cfg.level()
	logger, logCloser := sideband.New(&sideband.Options{Path: cfg.LogFile, Level: level})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns := storemgr.NewManager(cfg.URI, mongostore.NewDialer(logger), &storemgr.ManagerOptions{
		Client: cfg.Client,
		Gate:   gate,
		Logger: logger,
	})

	server, err := mcpmongo.NewServer(conns, &mcpmongo.Options{
		Implementation: &mcp.Implementation{
			Name:    "mongo-mcp",
			Title:   "MongoDB MCP Server",
			Version: version,
		},
		Namespace:        mcpmongo.SchemeNamespace{Scheme: cfg.Scheme},
		Gate:             gate,
		Logger:           logger,
		OperationTimeout: cfg.OperationTimeout,
		Preconnect:       cfg.Preconnect,
		LogJSONRPC:       cfg.LogJSONRPC,
	})
	if err != nil {
		return err
	}

	logger.Info("serving MCP over stdio",
		slog.String("scheme", cfg.Scheme),
		slog.Bool("preconnect", cfg.Preconnect),
		slog.Int("pid", os.Getpid()))

	serveErr := server.ServeIO(ctx, stdin)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("close store connection", slog.String("error", err.Error()))
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) && !errors.Is(serveErr, io.EOF) {
		logger.Error("server stopped", slog.String("error", serveErr.Error()))
		return fmt.Errorf("serve: %w", serveErr)
	}
	logger.Info("server stopped")
	return nil
}
