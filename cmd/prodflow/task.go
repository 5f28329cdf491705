package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Teskh/production-sub000/internal/services/tasks"
)

var (
	taskDefinitionID uint
	taskUnitID       uint
	taskPanelID      uint
	taskStationID    uint
	taskWorkerIDs    []uint
	taskWorkerID     uint
	taskReason       string
	taskNotes        string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Record worker actions on tasks",
}

var taskStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a task, or join its open instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := tasks.StartRequest{
			TaskDefinitionID: taskDefinitionID,
			WorkUnitID:       taskUnitID,
			PanelUnitID:      optionalID(taskPanelID),
			StationID:        taskStationID,
			WorkerIDs:        taskWorkerIDs,
			Notes:            taskNotes,
		}
		inst, err := app.taskService.Start(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var taskJoinCmd = &cobra.Command{
	Use:   "join INSTANCE_ID",
	Short: "Add a worker to an open task instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.taskService.Join(cmd.Context(), id, taskWorkerID)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause INSTANCE_ID",
	Short: "Pause a task instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.taskService.Pause(cmd.Context(), id, taskWorkerID, taskReason)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume INSTANCE_ID",
	Short: "Resume a paused task instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.taskService.Resume(cmd.Context(), id, taskWorkerID)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete INSTANCE_ID",
	Short: "Complete a task instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		inst, err := app.taskService.Complete(cmd.Context(), id, taskWorkerID, taskNotes)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	},
}

var taskSkipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip a panel task for one panel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		exc, err := app.taskService.Skip(cmd.Context(), tasks.SkipRequest{
			TaskDefinitionID: taskDefinitionID,
			WorkUnitID:       taskUnitID,
			PanelUnitID:      taskPanelID,
			StationID:        optionalID(taskStationID),
			WorkerID:         taskWorkerID,
			Reason:           taskReason,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, exc)
	},
}

var taskActiveCmd = &cobra.Command{
	Use:   "active WORKER_ID",
	Short: "List the open task instances of a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		active, err := app.taskService.ActiveForWorker(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, active)
	},
}

func init() {
	for _, c := range []*cobra.Command{taskStartCmd, taskSkipCmd} {
		c.Flags().UintVar(&taskDefinitionID, "task", 0, "task definition id")
		c.Flags().UintVar(&taskUnitID, "unit", 0, "work unit id")
		c.Flags().UintVar(&taskPanelID, "panel", 0, "panel unit id (panel tasks)")
		c.Flags().UintVar(&taskStationID, "station", 0, "station id")
		_ = c.MarkFlagRequired("task")
		_ = c.MarkFlagRequired("unit")
	}
	_ = taskStartCmd.MarkFlagRequired("station")
	_ = taskSkipCmd.MarkFlagRequired("panel")
	taskStartCmd.Flags().UintSliceVar(&taskWorkerIDs, "workers", nil, "worker ids")
	taskStartCmd.Flags().StringVar(&taskNotes, "notes", "", "notes")
	_ = taskStartCmd.MarkFlagRequired("workers")

	for _, c := range []*cobra.Command{taskJoinCmd, taskPauseCmd, taskResumeCmd, taskCompleteCmd, taskSkipCmd} {
		c.Flags().UintVar(&taskWorkerID, "worker", 0, "acting worker id")
		_ = c.MarkFlagRequired("worker")
	}
	taskPauseCmd.Flags().StringVar(&taskReason, "reason", "", "pause reason")
	taskSkipCmd.Flags().StringVar(&taskReason, "reason", "", "skip reason")
	taskCompleteCmd.Flags().StringVar(&taskNotes, "notes", "", "completion notes")

	taskCmd.AddCommand(taskStartCmd, taskJoinCmd, taskPauseCmd, taskResumeCmd, taskCompleteCmd, taskSkipCmd, taskActiveCmd)
	rootCmd.AddCommand(taskCmd)
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
