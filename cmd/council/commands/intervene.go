package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/spf13/cobra"
)

var interveneSubmitter string

var interveneCmd = &cobra.Command{
	Use:   "intervene SESSION_ID MESSAGE...",
	Short: "Add a message to a running discussion",
	Long: `Queue a message for a running discussion. It is added to the
transcript before the next expert turn and every later turn sees it.

Interventions for sessions that are not ACTIVE are dropped.

Examples:
  council intervene 3f9c2a "Assume the budget is fixed at two engineers"
  council intervene 3f9c2a --as alice Consider the read path too`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIntervene,
}

func init() {
	interveneCmd.Flags().StringVar(&interveneSubmitter, "as", "", "Submitter shown in the transcript")
	rootCmd.AddCommand(interveneCmd)
}

func runIntervene(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	content := strings.Join(args[1:], " ")

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.resolveSession(ctx, args[0])
	if err != nil {
		return err
	}

	queued, err := c.engine(nil).QueueIntervention(ctx, id, content, interveneSubmitter)
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyIntervention) {
			return printer.Error("empty intervention", "The message has no content.", nil)
		}
		return fmt.Errorf("failed to submit intervention: %w", err)
	}

	if !queued {
		printer.Warning("Session %s is not running, the intervention was dropped\n", id[:8])
		return nil
	}
	printer.Success("Queued intervention for session %s\n", id[:8])
	return nil
}
