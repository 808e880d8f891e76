package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires admin privileges)",
		Long:  "Administrative commands for monitoring a topicmesh node",
	}

	cmd.AddCommand(newAdminClientsCommand())
	cmd.AddCommand(newAdminFiltersCommand())
	cmd.AddCommand(newAdminStatsCommand())

	return cmd
}

func newAdminClientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List all connected clients",
		RunE:  runAdminClients,
	}

	return cmd
}

func newAdminFiltersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "List every filter held on the node",
		Long:  "List the union of filters held by clients and downstream peers",
		RunE:  runAdminFilters,
	}

	return cmd
}

func newAdminStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show node statistics",
		RunE:  runAdminStats,
	}

	return cmd
}

func runAdminClients(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.AdminListClients(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(response.Clients) == 0 {
		fmt.Fprintln(out, "No clients currently connected")
		return nil
	}

	fmt.Fprintf(out, "Found %d connected client(s):\n\n", len(response.Clients))
	for i, info := range response.Clients {
		fmt.Fprintf(out, "%d. Client ID: %s\n", i+1, info.ID)
		fmt.Fprintf(out, "   Connected At: %s\n", info.ConnectedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "   Filters: %v\n", info.Filters)
		if info.Dropped > 0 {
			fmt.Fprintf(out, "   Dropped: %d\n", info.Dropped)
		}
		if i < len(response.Clients)-1 {
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runAdminFilters(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	response, err := client.AdminListFilters(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if response.Count == 0 {
		fmt.Fprintln(out, "No filters held on this node")
		return nil
	}
	fmt.Fprintf(out, "Found %d filter(s):\n", response.Count)
	for _, f := range response.Filters {
		fmt.Fprintf(out, "  %s\n", f)
	}
	return nil
}

func runAdminStats(cmd *cobra.Command, args []string) error {
	if err := requireAuthentication(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	stats, err := client.AdminGetStats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📊 Node %s statistics:\n\n", stats.NodeID)
	fmt.Fprintf(out, "Clients: %d\n", stats.Clients)
	fmt.Fprintf(out, "Subscribers: %d\n", stats.Subscribers)
	fmt.Fprintf(out, "Filters: %d\n", stats.Filters)
	fmt.Fprintf(out, "Upstreams: %d\n", stats.Upstreams)
	fmt.Fprintf(out, "Published: %d\n", stats.Published)
	fmt.Fprintf(out, "Delivered: %d\n", stats.Delivered)
	fmt.Fprintf(out, "Duplicates: %d\n", stats.Duplicates)
	fmt.Fprintf(out, "Dropped: %d\n", stats.Dropped)
	fmt.Fprintf(out, "Stored messages: %d across %d topic(s)\n", stats.History.TotalEvents, stats.History.TopicCount)
	fmt.Fprintf(out, "Topic cache: %d entries, %d hits, %d misses\n",
		stats.TopicCache.Size, stats.TopicCache.Hits, stats.TopicCache.Misses)
	return nil
}
