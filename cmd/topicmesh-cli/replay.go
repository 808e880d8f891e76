package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReplayCommand() *cobra.Command {
	var (
		topic        string
		offset       int64
		limit        int
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored messages from a topic starting at an offset",
		Long: `Replay stored messages from a topic starting at a specific offset.
Unlike 'stream', this command fetches one batch of history and exits.
Topics keep a bounded number of recent messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, topic, offset, limit, prettyFormat)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to replay messages from (required)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "Starting offset")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of messages to retrieve (max: 1000)")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print JSON payloads")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic flag as required: %v", err))
	}

	return cmd
}

func runReplay(cmd *cobra.Command, topic string, offset int64, limit int, prettyFormat bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🔄 Replaying messages from topic '%s' (offset: %d, limit: %d)...\n", topic, offset, limit)

	response, err := client.ReadMessages(ctx, topic, offset, limit)
	if err != nil {
		return err
	}

	if len(response.Messages) == 0 {
		fmt.Fprintf(out, "🔍 No messages found for topic '%s' starting from offset %d\n", topic, offset)
		return nil
	}

	fmt.Fprintf(out, "📋 Found %d messages\n\n", response.Count)
	for i, msg := range response.Messages {
		printMessage(out, msg, i+1, prettyFormat)
	}

	fmt.Fprintf(out, "✅ Replay completed: %d messages from topic '%s'\n", len(response.Messages), topic)
	return nil
}
