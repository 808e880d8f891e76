package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

func newMatchCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "match FILTER TOPIC...",
		Short: "Check which topics a filter matches",
		Long: `Check locally, without a server, which topic names a topic filter matches.
With --strict the filter must follow standard MQTT rules, where '#' may only
be the last level.`,
		Example: `  topicmesh-cli match 'home/+/temp' home/kitchen/temp home/kitchen/humidity
  topicmesh-cli match 'sport/#/score' sport/tennis/player1/score`,
		Args:        cobra.MinimumNArgs(2),
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, args[0], args[1:], strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Reject filters with a non-terminal '#'")

	return cmd
}

func runMatch(cmd *cobra.Command, rawFilter string, names []string, strict bool) error {
	filter, err := topic.Lookup(rawFilter)
	if err != nil {
		return err
	}
	if filter.IsEmpty() {
		return topic.ErrEmptyTopic
	}
	if strict {
		if err := filter.Validate(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, raw := range names {
		name, err := topic.Lookup(raw)
		if err == nil {
			err = name.ValidateName()
		}
		switch {
		case err != nil:
			fmt.Fprintf(out, "✗ %s (invalid topic: %v)\n", raw, err)
		case filter.Matches(name):
			fmt.Fprintf(out, "✓ %s\n", raw)
		default:
			fmt.Fprintf(out, "✗ %s\n", raw)
		}
	}
	return nil
}
