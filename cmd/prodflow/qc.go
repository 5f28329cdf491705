package main

import (
	"github.com/spf13/cobra"

	"github.com/Teskh/production-sub000/internal/models"
	"github.com/Teskh/production-sub000/internal/services/qc"
)

var (
	qcOutcome           string
	qcInspectorID       uint
	qcSeverityID        uint
	qcFailureModeIDs    []uint
	qcOtherText         string
	qcReworkDescription string
	qcNotes             string

	qcCheckDefinitionID uint
	qcUnitID            uint
	qcPanelID           uint
	qcStationID         uint
	qcTaskInstanceID    uint

	qcWorkerIDs        []uint
	qcWorkerID         uint
	qcReason           string
	qcIncludeDismissed bool
)

var qcCmd = &cobra.Command{
	Use:   "qc",
	Short: "Inspections and rework",
}

var qcExecuteCmd = &cobra.Command{
	Use:   "execute CHECK_ID",
	Short: "Record an inspection outcome (Pass, Fail, Waive, Skip)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checkID, err := parseID(args[0])
		if err != nil {
			return err
		}

		failures := make([]qc.FailureInput, 0, len(qcFailureModeIDs)+1)
		for _, id := range qcFailureModeIDs {
			modeID := id
			failures = append(failures, qc.FailureInput{FailureModeID: &modeID})
		}
		if qcOtherText != "" {
			failures = append(failures, qc.FailureInput{OtherText: qcOtherText})
		}

		res, err := app.qcService.RecordExecution(cmd.Context(), qc.ExecutionRequest{
			CheckInstanceID:   checkID,
			Outcome:           models.QCOutcome(qcOutcome),
			InspectorID:       qcInspectorID,
			SeverityLevelID:   optionalID(qcSeverityID),
			Failures:          failures,
			ReworkDescription: qcReworkDescription,
			Notes:             qcNotes,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var qcOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a manual inspection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		check, err := app.qcService.OpenManualCheck(cmd.Context(), qc.ManualCheckRequest{
			CheckDefinitionID: qcCheckDefinitionID,
			WorkUnitID:        qcUnitID,
			PanelUnitID:       optionalID(qcPanelID),
			StationID:         optionalID(qcStationID),
			TaskInstanceID:    optionalID(qcTaskInstanceID),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, check)
	},
}

var qcShowCmd = &cobra.Command{
	Use:   "show CHECK_ID",
	Short: "Show a check with its executions and rework",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checkID, err := parseID(args[0])
		if err != nil {
			return err
		}
		check, err := app.qcService.GetCheck(cmd.Context(), checkID)
		if err != nil {
			return err
		}
		executions, err := app.qcService.Executions(cmd.Context(), checkID)
		if err != nil {
			return err
		}
		rework, err := app.qcService.ReworkForCheck(cmd.Context(), checkID)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]interface{}{
			"check":      check,
			"executions": executions,
			"rework":     rework,
		})
	},
}

var qcReworkCmd = &cobra.Command{
	Use:   "rework",
	Short: "Work on rework tasks",
}

var qcReworkStartCmd = &cobra.Command{
	Use:   "start REWORK_ID",
	Short: "Start work on a rework task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.qcService.StartRework(cmd.Context(), qc.ReworkStartRequest{
			ReworkTaskID: id,
			StationID:    optionalID(qcStationID),
			WorkerIDs:    qcWorkerIDs,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var qcReworkPauseCmd = &cobra.Command{
	Use:   "pause REWORK_ID",
	Short: "Pause work on a rework task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.qcService.PauseRework(cmd.Context(), id, qcWorkerID, qcReason)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var qcReworkResumeCmd = &cobra.Command{
	Use:   "resume REWORK_ID",
	Short: "Resume work on a rework task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.qcService.ResumeRework(cmd.Context(), id, qcWorkerID)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var qcReworkCompleteCmd = &cobra.Command{
	Use:   "complete REWORK_ID",
	Short: "Complete a rework task and reopen its check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.qcService.CompleteRework(cmd.Context(), id, qcWorkerID, qcNotes)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var qcNotificationsCmd = &cobra.Command{
	Use:   "notifications WORKER_ID",
	Short: "List rework notifications for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		notes, err := app.qcService.ListNotifications(cmd.Context(), id, qcIncludeDismissed)
		if err != nil {
			return err
		}
		return printJSON(cmd, notes)
	},
}

var qcSeenCmd = &cobra.Command{
	Use:   "seen NOTIFICATION_ID",
	Short: "Mark a notification as seen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		n, err := app.qcService.MarkNotificationSeen(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, n)
	},
}

func init() {
	f := qcExecuteCmd.Flags()
	f.StringVar(&qcOutcome, "outcome", "", "Pass, Fail, Waive or Skip")
	f.UintVar(&qcInspectorID, "inspector", 0, "inspector worker id")
	f.UintVar(&qcSeverityID, "severity", 0, "severity level id (required on Fail)")
	f.UintSliceVar(&qcFailureModeIDs, "failure-mode", nil, "failure mode ids")
	f.StringVar(&qcOtherText, "other", "", "free-text failure")
	f.StringVar(&qcReworkDescription, "rework", "", "rework description")
	f.StringVar(&qcNotes, "notes", "", "notes")
	_ = qcExecuteCmd.MarkFlagRequired("outcome")
	_ = qcExecuteCmd.MarkFlagRequired("inspector")

	f = qcOpenCmd.Flags()
	f.UintVar(&qcCheckDefinitionID, "check", 0, "check definition id")
	f.UintVar(&qcUnitID, "unit", 0, "work unit id")
	f.UintVar(&qcPanelID, "panel", 0, "panel unit id")
	f.UintVar(&qcStationID, "station", 0, "station id")
	f.UintVar(&qcTaskInstanceID, "task-instance", 0, "task instance id")
	_ = qcOpenCmd.MarkFlagRequired("check")
	_ = qcOpenCmd.MarkFlagRequired("unit")

	qcReworkStartCmd.Flags().UintSliceVar(&qcWorkerIDs, "workers", nil, "worker ids")
	qcReworkStartCmd.Flags().UintVar(&qcStationID, "station", 0, "station id (defaults to the check's)")
	_ = qcReworkStartCmd.MarkFlagRequired("workers")
	for _, c := range []*cobra.Command{qcReworkPauseCmd, qcReworkResumeCmd, qcReworkCompleteCmd} {
		c.Flags().UintVar(&qcWorkerID, "worker", 0, "acting worker id")
		_ = c.MarkFlagRequired("worker")
	}
	qcReworkPauseCmd.Flags().StringVar(&qcReason, "reason", "", "pause reason")
	qcReworkCompleteCmd.Flags().StringVar(&qcNotes, "notes", "", "completion notes")

	qcNotificationsCmd.Flags().BoolVar(&qcIncludeDismissed, "all", false, "include dismissed notifications")

	qcReworkCmd.AddCommand(qcReworkStartCmd, qcReworkPauseCmd, qcReworkResumeCmd, qcReworkCompleteCmd)
	qcCmd.AddCommand(qcExecuteCmd, qcOpenCmd, qcShowCmd, qcReworkCmd, qcNotificationsCmd, qcSeenCmd)
	rootCmd.AddCommand(qcCmd)
}
