package main

import (
	"errors"
	"fmt"
	"path"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leafprep/internal/earthengine"
	"leafprep/internal/tasks"
)

var (
	tasksStatusLimit int
	tasksStatusAll   bool
	tasksCancelAll   bool
)

// tasksCmd groups the operation commands.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect, wait for and cancel Earth Engine tasks",
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent tasks with their states",
	Args:  cobra.NoArgs,
	RunE:  runTasksStatus,
}

var tasksWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the tasks earlier runs left unfinished",
	Long: `Polls every task the ledger last saw pending or running until all are
terminal, then fails if any of them failed or was cancelled.`,
	Args: cobra.NoArgs,
	RunE: runTasksWait,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel [operation...]",
	Short: "Cancel tasks by operation name, or every unfinished task with --all",
	RunE:  runTasksCancel,
}

var tasksWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show unfinished tasks live until they finish",
	Args:  cobra.NoArgs,
	RunE:  runTasksWatch,
}

func init() {
	tasksStatusCmd.Flags().IntVarP(&tasksStatusLimit, "limit", "n", 20, "Maximum tasks to show")
	tasksStatusCmd.Flags().BoolVar(&tasksStatusAll, "all", false, "Include finished tasks")
	tasksCancelCmd.Flags().BoolVar(&tasksCancelAll, "all", false, "Cancel every unfinished task in the ledger")
}

func runTasksStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ops, err := client.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	shown := 0
	for _, op := range ops {
		if shown >= tasksStatusLimit {
			break
		}
		state := op.State()
		if !tasksStatusAll && earthengine.IsTerminal(state) {
			continue
		}
		shown++
		line := fmt.Sprintf("  %-20s %-40s %s", tasks.StateStyle(state), op.Metadata.Description, path.Base(op.Name))
		if op.Error != nil {
			line += "  " + op.Error.Message
		}
		fmt.Println(line)
	}
	if shown == 0 {
		fmt.Println("No tasks.")
	}
	return nil
}

func runTasksWait(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession("tasks wait")
	if err != nil {
		return err
	}
	defer func() { err = s.finish(err) }()

	n := s.tracker.Pending()
	if n == 0 {
		fmt.Println("No unfinished tasks.")
		return nil
	}
	fmt.Printf("Waiting for %d task(s)...\n", n)
	if err := s.tracker.Wait(ctx); err != nil {
		return err
	}
	fmt.Printf("%d task(s) succeeded\n", n)
	return nil
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !tasksCancelAll {
		return fmt.Errorf("name the operations to cancel or pass --all")
	}
	ctx, cancel := commandContext()
	defer cancel()
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	names := args
	if tasksCancelAll {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		tracker, err := resumeTracker(client, ledger, "")
		ledger.Close()
		if err != nil {
			return err
		}
		for _, t := range tracker.Tasks() {
			names = append(names, t.Operation)
		}
	}

	var errs []error
	for _, name := range names {
		if err := client.CancelOperation(ctx, name); err != nil {
			logger.Warn("Cancel failed", zap.String("operation", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("cancel %s: %w", name, err))
			continue
		}
		fmt.Printf("  cancelled %s\n", name)
	}
	return errors.Join(errs...)
}

func runTasksWatch(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession("tasks watch")
	if err != nil {
		return err
	}
	defer func() { err = s.finish(err) }()

	if s.tracker.Pending() == 0 {
		fmt.Println("No unfinished tasks.")
		return nil
	}
	return tasks.Watch(ctx, s.tracker)
}
