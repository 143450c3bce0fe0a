package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/transcript"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	createProblem     string
	createExperts     []string
	createMaxMessages int

	listStatus       string
	listOutputFormat string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and inspect discussion sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a PENDING session",
	Long: `Create a session for a problem statement and an ordered roster of
experts. Roster order is turn order. The session stays PENDING until
'council start' (or the councild API) starts it.

Examples:
  council session create -p "How should we shard the orders table?" -e ada,grace,linus
  council session create -p "Pick a queue" -e ada -e grace --max-messages 8`,
	Args: cobra.NoArgs,
	RunE: runSessionCreate,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Long: `List the sessions of the instance as a table or as JSON lines.

Examples:
  council session list
  council session list --status ACTIVE
  council session list -o jsonl | jq -r '.id'`,
	Args: cobra.NoArgs,
	RunE: runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show one session as JSON",
	Long: `Show a session with its roster resolved. SESSION_ID may be a
prefix of at least 6 characters.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionShow,
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel SESSION_ID",
	Short: "Cancel a PENDING session",
	Long: `Cancel a session that has not started. Running discussions end on
consensus or at their message cap and cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionCancel,
}

func init() {
	sessionCreateCmd.Flags().StringVarP(&createProblem, "problem", "p", "", "Problem statement for the council (required)")
	sessionCreateCmd.Flags().StringSliceVarP(&createExperts, "experts", "e", nil, "Expert ids in turn order (comma separated or repeated)")
	sessionCreateCmd.Flags().IntVarP(&createMaxMessages, "max-messages", "m", 0, "Message cap (default from council.yml, or 20)")
	_ = sessionCreateCmd.MarkFlagRequired("problem")

	sessionListCmd.Flags().StringVar(&listStatus, "status", "", "Only sessions with this status (PENDING, ACTIVE, COMPLETED, CANCELLED)")
	sessionListCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "text", "Output format: text or jsonl")

	sessionCmd.AddCommand(sessionCreateCmd, sessionListCmd, sessionShowCmd, sessionCancelCmd)
	rootCmd.AddCommand(sessionCmd)
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	maxMessages := createMaxMessages
	if maxMessages == 0 {
		cfg, err := c.councilConfig()
		if err != nil {
			return err
		}
		maxMessages = 20
		if cfg != nil {
			maxMessages = cfg.DefaultMaxMessages()
		}
	}

	session, err := createSession(ctx, c.store, createProblem, createExperts, maxMessages)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return printer.Error(
				"unknown expert",
				err.Error(),
				[]string{"List experts:\n  council experts", "Load experts from council.yml:\n  council experts load"},
			)
		}
		return printer.Error("invalid session", err.Error(), nil)
	}

	printer.Success("Created session %s\n", session.ID)
	printer.Info("\nStart the discussion:\n  council start %s\n", session.ID[:8])
	return nil
}

// createSession stores a new PENDING session. Roster problems are reported by
// the store: unknown experts as ErrNotFound, duplicates as validation errors.
func createSession(ctx context.Context, store blackboard.Store, problem string, experts []string, maxMessages int) (*blackboard.Session, error) {
	roster := make([]string, 0, len(experts))
	for _, id := range experts {
		if id = strings.TrimSpace(id); id != "" {
			roster = append(roster, id)
		}
	}

	session := blackboard.NewSession(strings.TrimSpace(problem), roster, maxMessages)
	if err := store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := transcript.ParseFormat(listOutputFormat)
	if err != nil || format == transcript.FormatMarkdown {
		return printer.Error("invalid output format", fmt.Sprintf("Unknown format: %s", listOutputFormat), []string{"Valid formats: text, jsonl"})
	}

	status := blackboard.SessionStatus(strings.ToUpper(listStatus))
	if status != "" {
		if err := status.Validate(); err != nil {
			return printer.Error("invalid status", err.Error(), []string{"Valid statuses: PENDING, ACTIVE, COMPLETED, CANCELLED"})
		}
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return transcript.ListSessions(ctx, c.store, c.env.InstanceName, status, format, cmd.OutOrStdout())
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.resolveSession(ctx, args[0])
	if err != nil {
		return err
	}
	return transcript.ShowSession(ctx, c.store, id, cmd.OutOrStdout())
}

func runSessionCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.resolveSession(ctx, args[0])
	if err != nil {
		return err
	}

	if _, err := c.engine(nil).Cancel(ctx, id); err != nil {
		if errors.Is(err, orchestrator.ErrInvalidState) {
			return printer.Error(
				"session cannot be cancelled",
				err.Error(),
				[]string{fmt.Sprintf("Check its status:\n  council session show %s", id[:8])},
			)
		}
		return fmt.Errorf("failed to cancel session: %w", err)
	}

	printer.Success("Cancelled session %s\n", id)
	return nil
}
