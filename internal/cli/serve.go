package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/identity"
	"github.com/toolgate/toolgate/internal/pipeline"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/server"
)

var (
	serveAddr        string
	serveRules       string
	serveAuditDB     string
	serveFallbackLog string
	serveIdentityDir string
	serveVerbose     bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8710", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveRules, "rules", "", "Path to rule table YAML (built-in defaults if empty)")
	serveCmd.Flags().StringVar(&serveAuditDB, "audit-db", "toolgate-audit.db", "Path to the SQLite audit database")
	serveCmd.Flags().StringVar(&serveFallbackLog, "fallback-log", "toolgate-fallback.jsonl", "Path to the hash-chained fallback audit log")
	serveCmd.Flags().StringVar(&serveIdentityDir, "identity-dir", "", "Directory of agent identity records (verification off if empty)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Debug logging")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reporting server",
	Long: "Runs the HTTP reporting surface: audit queries, budget and operation\n" +
		"reports, advisory evaluation, and prometheus metrics.\n" +
		"The rule table hot-reloads on file change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(serveVerbose)
	defer logger.Sync()

	table, err := rbac.LoadTable(serveRules)
	if err != nil {
		return fmt.Errorf("load rule table: %w", err)
	}

	store, err := audit.OpenSQLStore(serveAuditDB)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	fallback, err := audit.OpenChainLog(serveFallbackLog)
	if err != nil {
		return fmt.Errorf("open fallback log: %w", err)
	}
	defer fallback.Close()

	trail := audit.NewTrail(store, fallback, logger)
	defer trail.Close()

	var resolver *identity.Resolver
	if serveIdentityDir != "" {
		resolver, err = identity.NewResolver(identity.NewDirSource(serveIdentityDir), logger)
		if err != nil {
			return fmt.Errorf("create identity resolver: %w", err)
		}
		defer resolver.Close()
	}

	registry := prometheus.NewRegistry()
	p := pipeline.New(pipeline.Config{
		Identity: resolver,
		Table:    table,
		Trail:    trail,
		Metrics:  pipeline.NewMetrics(registry),
		Logger:   logger,
	})

	srv, err := server.New(server.Config{
		Addr:     serveAddr,
		Pipeline: p,
		Store:    store,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if serveRules != "" {
		reloader, err := server.NewReloader(p, serveRules, logger)
		if err != nil {
			logger.Warn("hot-reload disabled", zap.Error(err))
		} else {
			go reloader.Run(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
