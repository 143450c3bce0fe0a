package commands

import (
	"path/filepath"

	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Write a starter council.yml",
	Long: `Write a council.yml with example experts for each provider into DIR
(default: the current directory).

Examples:
  council init
  council init ./councils/architecture --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing council.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	path, err := scaffold.Initialize(filepath.Clean(dir), forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess(path)
	return nil
}
