package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Connection flags shared by every subcommand. Empty values fall back to the
// environment (REDIS_URL, DATABASE_URL, COUNCIL_INSTANCE_NAME, COUNCIL_CONFIG).
var (
	redisURLFlag    string
	databaseURLFlag string
	instanceFlag    string
	configPathFlag  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Council - multi-expert AI discussions",
	Long: `Council runs structured discussions between AI experts backed by
different LLM providers. Experts take turns on a problem statement until
they agree or the session's message cap is reached; you can intervene
between turns and follow the discussion live.

State lives on a Redis blackboard (optionally with sessions and transcripts
in Postgres), so the CLI and the councild service see the same sessions.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Unknown flags are errors, e.g. "council --problem x" instead of "council session create --problem x"
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	// Errors are printed by the printer package, not by cobra
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	// Ctrl-C stops watchers and interrupts foreground discussions
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&redisURLFlag, "redis-url", "", "Redis URL (default $REDIS_URL or redis://localhost:6379/0)")
	flags.StringVar(&databaseURLFlag, "database-url", "", "Postgres URL for sessions and transcripts (default $DATABASE_URL)")
	flags.StringVarP(&instanceFlag, "name", "n", "", "Instance name (default $COUNCIL_INSTANCE_NAME or 'default')")
	flags.StringVarP(&configPathFlag, "config", "c", "", "Path to council.yml (default $COUNCIL_CONFIG or council.yml)")
}
