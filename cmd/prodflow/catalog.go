package main

import (
	"github.com/spf13/cobra"

	"github.com/Teskh/production-sub000/internal/catalog"
	"github.com/Teskh/production-sub000/internal/models"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the production catalog",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Load stations, tasks, QC checks and units from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := catalog.ParseFile(args[0])
		if err != nil {
			return err
		}
		ix, err := seed.Apply(cmd.Context(), app.db)
		if err != nil {
			return err
		}
		return printJSON(cmd, ix)
	},
}

var eventsKind string

var eventsCmd = &cobra.Command{
	Use:   "events UNIT_ID",
	Short: "Show the event trail of a work unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		unitID, err := parseID(args[0])
		if err != nil {
			return err
		}
		if eventsKind != "" {
			events, err := app.auditService.ListKind(cmd.Context(), unitID, models.EventKind(eventsKind))
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		}
		events, err := app.auditService.List(cmd.Context(), unitID)
		if err != nil {
			return err
		}
		return printJSON(cmd, events)
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsKind, "kind", "", "only events of this kind")

	catalogCmd.AddCommand(catalogLoadCmd)
	rootCmd.AddCommand(catalogCmd, eventsCmd)
}
