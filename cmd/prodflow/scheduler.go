package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/Teskh/production-sub000/internal/services/scheduler"
)

var (
	jobTimezone string
	jobDisabled bool
	jobPayload  string
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Maintenance jobs",
}

var schedulerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run enabled jobs until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !app.cfg.Scheduler.Enabled {
			log.Println("Scheduler disabled by configuration")
			return nil
		}
		if err := app.schedulerService.Start(); err != nil {
			return err
		}
		app.schedulerRunning = true

		<-cmd.Context().Done()
		return nil
	},
}

var schedulerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := app.schedulerService.ListJobs()
		if err != nil {
			return err
		}
		return printJSON(cmd, jobs)
	},
}

var schedulerSetCmd = &cobra.Command{
	Use:   "set NAME TYPE CRON",
	Short: "Create or update a job (advancement_sweep, notification_dispatch)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := scheduler.UpsertJobRequest{
			Name:     args[0],
			JobType:  args[1],
			Cron:     args[2],
			Timezone: jobTimezone,
			Enabled:  !jobDisabled,
		}
		if jobPayload != "" {
			req.Payload = jobPayload
		}
		id, err := app.schedulerService.UpsertJob(req)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]string{"id": id})
	},
}

var schedulerDeleteCmd = &cobra.Command{
	Use:   "delete JOB_ID",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.schedulerService.DeleteJob(args[0])
	},
}

var schedulerRunNowCmd = &cobra.Command{
	Use:   "run-now JOB_ID",
	Short: "Execute a job once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := app.schedulerService.RunNow(args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write([]byte(summary + "\n"))
		return err
	},
}

func init() {
	schedulerSetCmd.Flags().StringVar(&jobTimezone, "timezone", "UTC", "IANA timezone for the cron expression")
	schedulerSetCmd.Flags().BoolVar(&jobDisabled, "disabled", false, "store the job without scheduling it")
	schedulerSetCmd.Flags().StringVar(&jobPayload, "payload", "", "JSON payload")

	schedulerCmd.AddCommand(schedulerRunCmd, schedulerListCmd, schedulerSetCmd, schedulerDeleteCmd, schedulerRunNowCmd)
	rootCmd.AddCommand(schedulerCmd)
}
