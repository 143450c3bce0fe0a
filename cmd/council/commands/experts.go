package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/emilixs/Aicouncil/internal/config"
	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/transcript"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/spf13/cobra"
)

var expertsOutputFormat string

var expertsCmd = &cobra.Command{
	Use:   "experts",
	Short: "List the experts available to sessions",
	Long: `List the experts stored on the blackboard.

Experts are defined in council.yml and stored with 'council experts load'
(councild loads them on startup).

Examples:
  # Show experts as a table
  council experts

  # Export experts as JSON lines
  council experts -o jsonl`,
	Args: cobra.NoArgs,
	RunE: runExpertsList,
}

var expertsShowCmd = &cobra.Command{
	Use:   "show EXPERT_ID",
	Short: "Show one expert as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpertsShow,
}

var expertsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Store the experts defined in council.yml",
	Long: `Validate council.yml and store every expert it defines, replacing
existing experts with the same handle.

Examples:
  council experts load
  council experts load --config ./councils/architecture.yml`,
	Args: cobra.NoArgs,
	RunE: runExpertsLoad,
}

func init() {
	expertsCmd.Flags().StringVarP(&expertsOutputFormat, "output", "o", "text", "Output format: text or jsonl")
	expertsCmd.AddCommand(expertsShowCmd, expertsLoadCmd)
	rootCmd.AddCommand(expertsCmd)
}

func runExpertsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := transcript.ParseFormat(expertsOutputFormat)
	if err != nil || format == transcript.FormatMarkdown {
		return printer.Error("invalid output format", fmt.Sprintf("Unknown format: %s", expertsOutputFormat), []string{"Valid formats: text, jsonl"})
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	experts, err := c.store.ListExperts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list experts: %w", err)
	}

	if format == transcript.FormatJSONL {
		return transcript.WriteJSONL(cmd.OutOrStdout(), experts)
	}
	formatExpertTable(cmd.OutOrStdout(), experts, c.env.InstanceName)
	return nil
}

func runExpertsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	expert, err := c.store.GetExpert(ctx, args[0])
	if err != nil {
		if blackboard.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("expert '%s' not found", args[0]),
				"The expert is not stored on the blackboard.",
				[]string{"List experts:\n  council experts", "Load experts from council.yml:\n  council experts load"},
			)
		}
		return fmt.Errorf("failed to get expert: %w", err)
	}
	return transcript.FormatSingleJSON(cmd.OutOrStdout(), expert)
}

func runExpertsLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg, err := c.councilConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		return printer.Error(
			"council.yml not found",
			fmt.Sprintf("No configuration at %s.", c.env.ConfigPath),
			[]string{"Point --config at your council definition"},
		)
	}

	n, err := loadExperts(ctx, c.store, cfg)
	if err != nil {
		return err
	}
	printer.Success("Loaded %d experts into instance '%s'\n", n, c.env.InstanceName)
	return nil
}

// loadExperts stores every expert of cfg and returns how many were written.
func loadExperts(ctx context.Context, store blackboard.Store, cfg *config.CouncilConfig) (int, error) {
	experts := cfg.BlackboardExperts()
	for _, e := range experts {
		if err := store.PutExpert(ctx, e); err != nil {
			return 0, fmt.Errorf("failed to store expert '%s': %w", e.ID, err)
		}
	}
	return len(experts), nil
}

func formatExpertTable(w io.Writer, experts []*blackboard.Expert, instanceName string) {
	if len(experts) == 0 {
		fmt.Fprintf(w, "No experts found for instance '%s'\n", instanceName)
		return
	}

	fmt.Fprintf(w, "%-12s %-18s %-10s %-20s %s\n", "ID", "NAME", "PROVIDER", "MODEL", "SPECIALTY")
	for _, e := range experts {
		model, _ := e.Config["model"].(string)
		fmt.Fprintf(w, "%-12s %-18s %-10s %-20s %s\n", e.ID, e.Name, e.Provider, orDash(model), orDash(e.Specialty))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
