package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe FILTER...",
		Short: "Add topic filters to this client's session",
		Long: `Add topic filters to this client's session. Filters use '/' separated
levels with '+' matching one level and '#' matching any number of levels.
Messages matching the session filters are received with 'stream' when no
--filter is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args)
		},
	}

	return cmd
}

func runSubscribe(cmd *cobra.Command, filters []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subscribing to %v...\n", filters)

	response, err := client.Subscribe(ctx, filters...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✅ Subscribed!\n")
	printFilters(out, response.ClientID, response.Filters)
	return nil
}
