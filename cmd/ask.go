package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xhad/prepbot/pkg/assistant"
	"github.com/xhad/prepbot/pkg/querylog"
	"github.com/xhad/prepbot/server"
)

var (
	askJSON      bool
	serveAddr    string
	allowOrigins []string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one interview question",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage statistics from the query log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		printStats(querylog.New(cfg.Log.Dir).Stats())
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assistant over HTTP and websockets",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	addSourceFlags(askCmd)
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the reply as JSON")

	addSourceFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "listen address")
	serveCmd.Flags().StringArrayVar(&allowOrigins, "allow-origin", nil, "browser origin allowed to call the API (repeatable, * for any)")

	rootCmd.AddCommand(askCmd, statsCmd, serveCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	progress := &ingestProgress{}
	a, cleanup, err := newAssistant(ctx, progress)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := prepareKnowledge(ctx, a, progress, true); err != nil {
		return err
	}

	var reply *assistant.Reply
	withSpinner("Thinking...", func() {
		reply, err = a.Ask(ctx, args[0])
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(reply, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal reply: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printReply(reply, true)
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	progress := &ingestProgress{}
	a, cleanup, err := newAssistant(ctx, progress)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := prepareKnowledge(ctx, a, progress, false); err != nil {
		return err
	}
	return server.New(a, server.WithAllowedOrigins(allowOrigins...)).Run(ctx, serveAddr)
}
