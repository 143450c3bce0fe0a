package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/watch"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/spf13/cobra"
)

// followGrace bounds how long the live output may trail the end of the run.
const followGrace = 5 * time.Second

var startOutputFormat string

var startCmd = &cobra.Command{
	Use:   "start SESSION_ID",
	Short: "Run a PENDING session's discussion in the foreground",
	Long: `Start a PENDING session and run its discussion in this process,
printing it live until the experts reach consensus or the message cap.

Other terminals can follow with 'council watch' and intervene with
'council intervene'. Ctrl-C aborts the discussion and cancels the session.

Examples:
  council start 3f9c2a
  council start 3f9c2a -o json > discussion.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := parseWatchFormat(startOutputFormat)
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

	cfg, err := c.councilConfig()
	if err != nil {
		return err
	}
	engine := c.engine(cfg)

	// Subscribe before the session goes ACTIVE so the first turn is not missed
	sub, err := c.bus.SubscribeSessionEvents(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	defer sub.Close()

	run, err := engine.Prepare(ctx, id)
	if err != nil {
		return startError(id, err)
	}

	followCtx, stopFollow := context.WithCancel(context.Background())
	defer stopFollow()
	followed := make(chan error, 1)
	go func() {
		followed <- watch.Follow(followCtx, c.store, sub, id, watch.Options{Format: format}, cmd.OutOrStdout())
	}()

	final, runErr := run.Execute(ctx)

	select {
	case err := <-followed:
		if err != nil {
			printer.Warning("live output stopped early: %v\n", err)
		}
	case <-time.After(followGrace):
		stopFollow()
		<-followed
	}

	if runErr != nil {
		return printer.ErrorWithContext(
			"discussion aborted",
			runErr.Error(),
			map[string]string{"Session": id, "Status": string(blackboard.SessionStatusCancelled)},
			[]string{fmt.Sprintf("Review the transcript:\n  council transcript %s", id[:8])},
		)
	}

	if format == watch.OutputFormatDefault {
		printSummary(final)
	}
	return nil
}

// startError renders a Prepare failure. Validation failures leave the session
// PENDING, so the user can fix the cause and start it again.
func startError(sessionID string, err error) error {
	if !orchestrator.IsValidation(err) {
		if blackboard.IsNotFound(err) {
			return printer.Error(fmt.Sprintf("session '%s' not found", sessionID), err.Error(), nil)
		}
		return fmt.Errorf("failed to start session: %w", err)
	}

	var suggestions []string
	switch {
	case errors.Is(err, orchestrator.ErrInvalidState):
		suggestions = []string{"Only PENDING sessions can start. Create a new one:\n  council session create -p ... -e ..."}
	case errors.Is(err, orchestrator.ErrNoParticipants):
		suggestions = []string{"Create a session with at least two experts:\n  council session create -p ... -e ada,grace"}
	case errors.Is(err, orchestrator.ErrInvalidExpertConfig):
		suggestions = []string{"Fix the expert in council.yml, then reload it:\n  council experts load"}
	case errors.Is(err, orchestrator.ErrProviderUnavailable):
		suggestions = []string{
			"Export the provider's key (OPENAI_API_KEY or ANTHROPIC_API_KEY)",
			"Run without real providers:\n  COUNCIL_MODE=mock council start " + sessionID[:8],
		}
	}

	return printer.Error("session cannot start", err.Error(), suggestions)
}

func printSummary(s *blackboard.Session) {
	if s == nil {
		return
	}
	printer.Println()
	if s.ConsensusReached {
		printer.Success("Session %s is %s with consensus\n", s.ID[:8], s.Status)
	} else {
		printer.Info("Session %s is %s without consensus\n", s.ID[:8], s.Status)
	}
	printer.Info("Full transcript:\n  council transcript %s\n", s.ID[:8])
}
