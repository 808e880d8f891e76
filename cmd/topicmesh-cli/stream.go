package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/topicmesh/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		filters      []string
		bufferSize   int
		count        int
		prettyFormat bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream matching messages in real-time",
		Long: `Stream messages in real-time using Server-Sent Events.
With --filter the stream holds its own filters for as long as it runs.
Without it the stream carries the client's session subscriptions.
Press Ctrl+C to stop streaming.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, filters, bufferSize, count, prettyFormat)
		},
	}

	cmd.Flags().StringSliceVar(&filters, "filter", nil, "Topic filter to stream (repeatable)")
	cmd.Flags().IntVar(&bufferSize, "buffer-size", 100, "Message buffer size")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 = run until interrupted)")
	cmd.Flags().BoolVar(&prettyFormat, "pretty", false, "Pretty print JSON payloads")

	return cmd
}

func runStream(cmd *cobra.Command, filters []string, bufferSize, count int, prettyFormat bool) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🌊 Starting message stream from %s", serverURL)
	if len(filters) > 0 {
		fmt.Fprintf(out, " (filters: %v)", filters)
	} else {
		fmt.Fprintf(out, " (session subscriptions)")
	}
	fmt.Fprintln(out, "...")

	streamClient, err := client.Stream(ctx, httpclient.StreamConfig{
		Filters:    filters,
		BufferSize: bufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	defer streamClient.Close()

	errs := streamClient.Errors()
	received := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(out, "\n✅ Stream stopped. Received %d messages.\n", received)
			return nil

		case msg, ok := <-streamClient.Messages():
			if !ok {
				fmt.Fprintf(out, "\n🔌 Stream closed. Received %d messages.\n", received)
				return nil
			}
			received++
			printMessage(out, msg, received, prettyFormat)
			if count > 0 && received >= count {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// the stream reconnects on its own
			fmt.Fprintf(cmd.ErrOrStderr(), "❌ Stream error: %v\n", err)
		}
	}
}

func printMessage(out io.Writer, msg httpclient.Message, n int, pretty bool) {
	fmt.Fprintf(out, "📨 Message #%d:\n", n)
	fmt.Fprintf(out, "   ID: %s\n", msg.MessageID)
	fmt.Fprintf(out, "   Topic: %s\n", msg.Topic)
	fmt.Fprintf(out, "   Offset: %d\n", msg.Offset)
	fmt.Fprintf(out, "   Time: %s\n", msg.Timestamp.Format("2006-01-02 15:04:05.000"))
	if msg.Origin != "" {
		fmt.Fprintf(out, "   Origin: %s\n", msg.Origin)
	}
	for k, v := range msg.Headers {
		fmt.Fprintf(out, "   Header %s: %s\n", k, v)
	}

	switch {
	case len(msg.Payload) == 0:
		fmt.Fprintf(out, "   Payload: null\n")
	case pretty:
		var buf bytes.Buffer
		if err := json.Indent(&buf, msg.Payload, "            ", "  "); err != nil {
			fmt.Fprintf(out, "   Payload: %s\n", msg.Payload)
		} else {
			fmt.Fprintf(out, "   Payload:\n            %s\n", buf.String())
		}
	default:
		fmt.Fprintf(out, "   Payload: %s\n", msg.Payload)
	}
	fmt.Fprintln(out)
}
