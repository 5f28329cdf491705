// Command prodflow drives the production flow and QC engine from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Teskh/production-sub000/internal/apperr"
	"github.com/Teskh/production-sub000/internal/config"
)

var (
	configPath string

	app     *App
	rootCtx context.Context
)

var rootCmd = &cobra.Command{
	Use:           "prodflow",
	Short:         "Production flow and QC orchestration for prefab modules",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		app = NewApp(cfg)
		return app.startup(rootCtx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.shutdown()
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// startup already migrated
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml or toml)")
	rootCmd.AddCommand(migrateCmd)
}

// printJSON writes v to the command's stdout
func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps an action error to a process exit status
func exitCode(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return 3
	case apperr.CodeInvalidState:
		return 4
	case apperr.CodePolicyViolation:
		return 5
	case apperr.CodeConflict:
		return 6
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx = ctx

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		// PersistentPostRun is skipped when RunE fails.
		if app != nil {
			app.shutdown()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
