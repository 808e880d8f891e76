package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPublishCommand() *cobra.Command {
	var (
		topic   string
		payload string
		headers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a topic",
		Long: `Publish a message to a topic. The payload should be valid JSON.
Topic names cannot contain the '+' or '#' wildcards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, topic, payload, headers)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Topic to publish to (required)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Message payload as JSON")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Message header as key=value (repeatable)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("Failed to mark topic as required: %v", err))
	}

	return cmd
}

func runPublish(cmd *cobra.Command, topic, payloadStr string, headers map[string]string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	var payload json.RawMessage
	if payloadStr != "" {
		if !json.Valid([]byte(payloadStr)) {
			return fmt.Errorf("invalid JSON payload: %q", payloadStr)
		}
		payload = json.RawMessage(payloadStr)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Publishing message to topic '%s'...\n", topic)

	response, err := client.Publish(ctx, topic, payload, headers)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Message published successfully!\n")
	fmt.Fprintf(out, "Message ID: %s\n", response.MessageID)
	fmt.Fprintf(out, "Topic: %s\n", response.Topic)
	fmt.Fprintf(out, "Offset: %d\n", response.Offset)
	fmt.Fprintf(out, "Timestamp: %s\n", response.Timestamp.Format("2006-01-02 15:04:05"))

	return nil
}
