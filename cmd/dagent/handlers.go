package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/deck-agent/dagent/config"
	"github.com/ZanzyTHEbar/deck-agent/dagent/conversation"
	"github.com/ZanzyTHEbar/deck-agent/dagent/db"
	"github.com/ZanzyTHEbar/deck-agent/dagent/documents"
	"github.com/ZanzyTHEbar/deck-agent/dagent/harness"
	"github.com/ZanzyTHEbar/deck-agent/dagent/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func loadConfig(path string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg.Log, os.Stderr), nil
}

func openDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	return db.ConnectToDBWithConfig(ctx, &db.LibSQLConfig{
		DSN:          cfg.Database.DSN,
		AuthToken:    cfg.Database.AuthToken,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger)
}

func runServe(ctx context.Context, configPath, addr string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.Migrate(ctx, sqlDB, logger); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := harness.NewFactory(cfg, sqlDB, logger)
	factory.Registerer = reg
	defer factory.Close()

	rt, err := factory.CreateRuntime(ctx)
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}

	srv := server.New(rt, reg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err = <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, srv.Shutdown(shutdownCtx), rt.Shutdown(shutdownCtx))
}

func serverURL(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return "http://" + cfg.Server.ListenAddr
}

func runSignal(ctx context.Context, out io.Writer, configPath string, opts *signalOptions) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	sig := conversation.Signal{Query: opts.query, PPTXPaths: opts.pptx, ExcelPaths: opts.excel}
	if opts.dir != "" {
		found, err := documents.Discover(opts.dir, cfg.Documents.IgnoreFile)
		if err != nil {
			return err
		}
		sig.PPTXPaths = append(sig.PPTXPaths, found.PPTXPaths...)
		sig.ExcelPaths = append(sig.ExcelPaths, found.ExcelPaths...)
	}

	client := newAPIClient(serverURL(opts.server, cfg))
	seq, err := client.signal(ctx, opts.conversation, sig)
	if err != nil {
		return err
	}
	if opts.wait <= 0 {
		fmt.Fprintf(out, "queued signal %d for %s\n", seq, opts.conversation)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.wait)
	defer cancel()
	if err := client.awaitSignal(waitCtx, opts.conversation, seq, 250*time.Millisecond); err != nil {
		return err
	}
	turns, err := client.log(ctx, opts.conversation)
	if err != nil {
		return err
	}
	return printLog(out, turns, opts.asJSON)
}

func runLog(ctx context.Context, out io.Writer, configPath, serverFlag, id string, asJSON bool) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	turns, err := newAPIClient(serverURL(serverFlag, cfg)).log(ctx, id)
	if err != nil {
		return err
	}
	return printLog(out, turns, asJSON)
}

func runMigrateUp(ctx context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	sqlDB, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return db.Migrate(ctx, sqlDB, logger)
}

func runMigrateStatus(ctx context.Context, out io.Writer, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	sqlDB, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	statuses, err := db.MigrationStatus(ctx, sqlDB)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%05d  %-8s  %s  %s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return nil
}

// printLog writes turns as indented JSON or as a readable transcript.
func printLog(out io.Writer, turns []conversation.Turn, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	}
	for i, t := range turns {
		if i == 0 && t.Role == conversation.RoleSystem {
			fmt.Fprintf(out, "[system] (%d bytes)\n", len(t.Content))
			continue
		}
		switch t.Role {
		case conversation.RoleTool:
			fmt.Fprintf(out, "[tool %s %s]\n%s\n", t.ToolName, t.ToolRequestID, indent(t.Content))
		default:
			fmt.Fprintf(out, "[%s]\n", t.Role)
			if t.Content != "" {
				fmt.Fprintln(out, indent(t.Content))
			}
			for _, r := range t.ToolRequests {
				fmt.Fprintf(out, "  -> %s %s %s\n", r.Name, r.ID, r.Arguments)
			}
		}
	}
	return nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
