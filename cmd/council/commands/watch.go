package commands

import (
	"fmt"

	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/watch"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch SESSION_ID",
	Short: "Follow a discussion live",
	Long: `Follow a session's discussion as it happens.

Prints each expert turn, message, consensus and the end of the session.
Watching a PENDING session waits for it to start; watching a finished
session prints its outcome.

Output Formats:
  default - Human-readable output with speaker colours
  json    - Line-delimited JSON events for programmatic processing

Examples:
  # Follow a discussion
  council watch 3f9c2a

  # Record the event stream
  council watch 3f9c2a --output=json > events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := parseWatchFormat(watchOutputFormat)
	if err != nil {
		return err
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.resolveSession(ctx, args[0])
	if err != nil {
		return err
	}

	err = watch.StreamSession(ctx, sessionSource{c}, id, watch.Options{Format: format}, cmd.OutOrStdout())
	if err != nil && ctx.Err() != nil {
		// Interrupted by the user
		return nil
	}
	return err
}

func parseWatchFormat(s string) (watch.OutputFormat, error) {
	switch watch.OutputFormat(s) {
	case watch.OutputFormatDefault, watch.OutputFormatJSON:
		return watch.OutputFormat(s), nil
	default:
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", s),
			[]string{"Valid formats: default, json"},
		)
	}
}
