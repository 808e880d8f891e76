package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newSubscriptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Manage subscriptions",
		Long:  "List and remove the topic filters held by this client",
	}

	cmd.AddCommand(newSubscriptionsListCommand())
	cmd.AddCommand(newSubscriptionsDeleteCommand())

	return cmd
}

func newSubscriptionsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the filters held by this client",
		RunE:  runSubscriptionsList,
	}

	return cmd
}

func newSubscriptionsDeleteCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [FILTER...]",
		Short: "Remove topic filters",
		Long:  "Remove the given topic filters, or every filter of this client with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return fmt.Errorf("give at least one filter or --all")
			}
			if len(args) > 0 && all {
				return fmt.Errorf("--all cannot be combined with filters")
			}
			return runSubscriptionsDelete(cmd, args)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every filter held by this client")

	return cmd
}

func runSubscriptionsList(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.ListSubscriptions(ctx)
	if err != nil {
		return err
	}

	printFilters(cmd.OutOrStdout(), response.ClientID, response.Filters)
	return nil
}

func runSubscriptionsDelete(cmd *cobra.Command, filters []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.Unsubscribe(ctx, filters...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Subscriptions removed!\n")
	printFilters(out, response.ClientID, response.Filters)
	return nil
}

func printFilters(out io.Writer, clientID string, filters []string) {
	if len(filters) == 0 {
		fmt.Fprintf(out, "No filters held by client '%s'\n", clientID)
		return
	}

	fmt.Fprintf(out, "Client '%s' holds %d filter(s):\n", clientID, len(filters))
	for _, f := range filters {
		fmt.Fprintf(out, "  %s\n", f)
	}
}
