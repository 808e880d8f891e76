package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newTopicsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect topics with stored messages",
	}

	cmd.AddCommand(newTopicsListCommand())
	cmd.AddCommand(newTopicsInfoCommand())

	return cmd
}

func newTopicsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List topics with stored messages",
		RunE:  runTopicsList,
	}

	return cmd
}

func newTopicsInfoCommand() *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the retained offset range of a topic",
		Long: `Display the offsets and timestamps of the messages a topic still retains.
This helps pick offset values for replay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopicsInfo(cmd, topic)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to inspect (required)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic flag as required: %v", err))
	}

	return cmd
}

func runTopicsList(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	topics, err := client.ListTopics(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(topics) == 0 {
		fmt.Fprintln(out, "No topics have stored messages")
		return nil
	}
	fmt.Fprintf(out, "Found %d topic(s):\n", len(topics))
	for _, t := range topics {
		fmt.Fprintf(out, "  %s\n", t)
	}
	return nil
}

func runTopicsInfo(cmd *cobra.Command, topic string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🔍 Inspecting topic '%s'...\n\n", topic)

	const sample = 1000
	response, err := client.ReadMessages(ctx, topic, 0, sample)
	if err != nil {
		return err
	}

	if len(response.Messages) == 0 {
		fmt.Fprintf(out, "📭 Topic '%s' has no stored messages\n", topic)
		return nil
	}

	first := response.Messages[0]
	last := response.Messages[len(response.Messages)-1]

	fmt.Fprintf(out, "📊 Topic Information:\n")
	fmt.Fprintf(out, "   Topic: %s\n", response.Topic)
	fmt.Fprintf(out, "   First retained offset: %d (%s)\n", first.Offset, first.Timestamp.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(out, "   Last sampled offset: %d (%s)\n", last.Offset, last.Timestamp.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(out, "   Sampled messages: %d\n", len(response.Messages))
	if len(response.Messages) == sample {
		fmt.Fprintf(out, "   (Topic may contain more messages - showing first %d)\n", sample)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "💡 Replay recent messages: topicmesh-cli replay --topic %s --offset %d --limit 10\n",
		response.Topic, max(first.Offset, last.Offset-9))
	return nil
}
