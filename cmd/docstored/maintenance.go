package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <collection>",
	Short: "Recompute and show collection statistics",
	Long: `Recompute statistics for a collection from the source tables and
store them on the knowledge base row. Counters are always derived, never
incremented, so this also repairs drift.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		stats, err := a.registry.Cascade().RecomputeStats(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("collection: %s\n", stats.Collection)
		fmt.Printf("documents:  %d\n", stats.DocumentCount)
		fmt.Printf("chunks:     %d\n", stats.ChunkCount)
		fmt.Printf("bytes:      %d\n", stats.TotalBytes)
		return nil
	},
}

var sweepRemove bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Detect catalog/bucket inconsistencies",
	Long: `Scan for orphaned blobs (bucket files no row points at) and orphaned
rows (rows whose bytes are missing). Detection never deletes anything;
pass --remove to also delete the orphaned blobs that were found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		report, err := a.registry.Sweeper().Sweep(ctx)
		if err != nil {
			return err
		}
		if report.Clean() {
			fmt.Println("clean: no orphans found")
			return nil
		}
		for _, orphan := range report.OrphanBlobs {
			fmt.Printf("orphan blob: %s\n", orphan.Path)
		}
		for _, orphan := range report.OrphanRows {
			fmt.Printf("orphan row:  %s (%s) %s\n", orphan.FileID, orphan.Collection, orphan.Reason)
		}
		if sweepRemove && len(report.OrphanBlobs) > 0 {
			removed, err := a.registry.Sweeper().RemoveOrphanBlobs(ctx, report.OrphanBlobs)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d orphaned blobs\n", removed)
		}
		return nil
	},
}

var (
	tasksOlderThan time.Duration
	tasksPurge     bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [task-id]",
	Short: "Inspect or purge tracked tasks",
	Long: `Without arguments, list the most recent tasks, or purge terminal task
records older than the retention horizon when --purge is set. With a task
ID, show that task.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if len(args) == 1 {
			task, err := a.registry.Tasks().Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("task:     %s\n", task.TaskID)
			fmt.Printf("status:   %s\n", task.Status)
			fmt.Printf("progress: %.0f%%\n", task.Progress*100)
			if task.Message != "" {
				fmt.Printf("message:  %s\n", task.Message)
			}
			if task.Error != "" {
				fmt.Printf("error:    %s\n", task.Error)
			}
			if task.Result != "" {
				fmt.Printf("result:   %s\n", task.Result)
			}
			return nil
		}

		if !tasksPurge {
			recs, err := a.registry.Tasks().Recent(ctx, 20)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, rec := range recs {
				fmt.Printf("%s  %-9s %3.0f%%  %s\n",
					rec.TaskID, rec.Status, rec.Progress*100, rec.Message)
			}
			return nil
		}
		horizon := tasksOlderThan
		if horizon == 0 {
			horizon = a.cfg.Tasks.Retention.Duration()
		}
		purged, err := a.registry.Sweeper().PurgeTasks(ctx, horizon)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d terminal tasks older than %s\n", purged, horizon)
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepRemove, "remove", false, "also remove orphaned blobs")
	tasksCmd.Flags().BoolVar(&tasksPurge, "purge", false, "purge old terminal tasks")
	tasksCmd.Flags().DurationVar(&tasksOlderThan, "older-than", 0, "purge horizon (default: configured retention)")
}
