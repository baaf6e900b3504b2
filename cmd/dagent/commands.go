package main

import (
	"time"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that hosts the runtime and its HTTP surface.
func buildServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its HTTP API",
		Long: `Run every stored conversation and accept new signals over HTTP.

Endpoints:
  POST /v1/conversations/{id}/signals
  GET  /v1/conversations/{id}/log
  GET  /v1/conversations/{id}/status
  POST /v1/conversations/{id}/resume
  GET  /metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.listen_addr)")
	return cmd
}

type signalOptions struct {
	server       string
	conversation string
	query        string
	pptx         []string
	excel        []string
	dir          string
	wait         time.Duration
	asJSON       bool
}

// buildSignalCmd creates the "signal" command: send a query, then print the log
// once the conversation has processed it.
func buildSignalCmd(configPath *string) *cobra.Command {
	opts := &signalOptions{}
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Send a query with a document set to a conversation",
		Example: `  # Ask about one deck
  dagent signal --conversation alice --query "What is on slide 2?" --pptx ./q3.pptx

  # Use every deck and workbook under a directory
  dagent signal --conversation alice --query "Summarize" --dir ./reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(cmd.Context(), cmd.OutOrStdout(), *configPath, opts)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "Server base URL (default derived from server.listen_addr)")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "Conversation id")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "User query")
	cmd.Flags().StringSliceVar(&opts.pptx, "pptx", nil, "PowerPoint files")
	cmd.Flags().StringSliceVar(&opts.excel, "excel", nil, "Excel files")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Add every .pptx and .xlsx under this directory")
	cmd.Flags().DurationVar(&opts.wait, "wait", 5*time.Minute, "How long to wait for the reply; 0 returns right after queueing")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the log as JSON")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

// buildLogCmd creates the "log" command that prints a conversation log.
func buildLogCmd(configPath *string) *cobra.Command {
	var (
		server       string
		conversation string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the log of a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(cmd.Context(), cmd.OutOrStdout(), *configPath, server, conversation, asJSON)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL (default derived from server.listen_addr)")
	cmd.Flags().StringVar(&conversation, "conversation", "", "Conversation id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the log as JSON")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

// buildMigrateCmd creates the "migrate" command group.
func buildMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context(), *configPath)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	})
	return cmd
}
