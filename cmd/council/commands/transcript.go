package commands

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/timespec"
	"github.com/emilixs/Aicouncil/internal/transcript"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	transcriptOutputFormat  string
	transcriptSince         string
	transcriptUntil         string
	transcriptExpert        string
	transcriptRole          string
	transcriptInterventions bool
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript SESSION_ID",
	Short: "Print a session's transcript",
	Long: `Print the messages of a session in sequence order.

Output Formats:
  text     - Speaker-coloured transcript (default)
  jsonl    - One JSON message per line
  markdown - A document suitable for sharing

Time filters accept durations (1h30m, counted back from now), dates
(2026-10-01), RFC3339 timestamps or "now".

Examples:
  council transcript 3f9c2a
  council transcript 3f9c2a -o markdown > discussion.md
  council transcript 3f9c2a --expert 'gr*' --since 30m
  council transcript 3f9c2a --interventions -o jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscript,
}

func init() {
	flags := transcriptCmd.Flags()
	flags.StringVarP(&transcriptOutputFormat, "output", "o", "text", "Output format: text, jsonl or markdown")
	flags.StringVar(&transcriptSince, "since", "", "Only messages created at or after this time")
	flags.StringVar(&transcriptUntil, "until", "", "Only messages created before this time")
	flags.StringVar(&transcriptExpert, "expert", "", "Only messages of experts whose id matches this glob")
	flags.StringVar(&transcriptRole, "role", "", "Only messages with this role (USER, ASSISTANT, SYSTEM)")
	flags.BoolVar(&transcriptInterventions, "interventions", false, "Only user interventions")
	rootCmd.AddCommand(transcriptCmd)
}

func runTranscript(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := transcript.ParseFormat(transcriptOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", fmt.Sprintf("Unknown format: %s", transcriptOutputFormat), []string{"Valid formats: text, jsonl, markdown"})
	}

	filter, err := buildTranscriptFilter(time.Now())
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

	return transcript.WriteTranscript(ctx, c.store, id, filter, format, cmd.OutOrStdout())
}

// buildTranscriptFilter turns the filter flags into a transcript filter.
func buildTranscriptFilter(now time.Time) (*transcript.Filter, error) {
	window, err := timespec.ParseWindow(transcriptSince, transcriptUntil, now)
	if err != nil {
		return nil, printer.Error("invalid time filter", err.Error(), []string{"Examples: --since 1h, --since 2026-10-01, --until now"})
	}

	if _, err := path.Match(transcriptExpert, ""); err != nil {
		return nil, printer.Error("invalid --expert pattern", err.Error(), []string{"Use a glob such as 'gr*' or 'ada'"})
	}

	role := blackboard.Role(strings.ToUpper(transcriptRole))
	if role != "" {
		if err := role.Validate(); err != nil {
			return nil, printer.Error("invalid role", err.Error(), []string{"Valid roles: USER, ASSISTANT, SYSTEM"})
		}
	}

	return &transcript.Filter{
		Window:            window,
		ExpertGlob:        transcriptExpert,
		Role:              role,
		InterventionsOnly: transcriptInterventions,
	}, nil
}
