package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leafprep/internal/pipeline"
)

var (
	pipelineNoWait bool
	pipelineRaw    bool
)

// pipelineCmd groups the derived-asset pipeline commands.
var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Build the derived well assets",
	Long: `The pipeline turns the ingested sources into the assets the sampler reads.
Each step names its output asset; steps whose asset exists are skipped.`,
}

var pipelinePlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which steps exist, are running, pending or blocked",
	Args:  cobra.NoArgs,
	RunE:  runPipelinePlan,
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run [step...]",
	Short: "Run the pipeline, or only the named steps",
	Long: `Runs every pipeline step in order, or only the named steps. A step waits for
the tasks producing its inputs before it starts; a failed input stops the
run. Without --no-wait the command returns once every task has finished.`,
	RunE: runPipelineRun,
}

func init() {
	pipelinePlanCmd.Flags().BoolVar(&pipelineRaw, "raw", false, "Print markdown without rendering")
	pipelineRunCmd.Flags().BoolVar(&pipelineNoWait, "no-wait", false, "Return once every export has been started")
}

func runPipelinePlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()
	tracker, err := resumeTracker(client, ledger, "")
	if err != nil {
		return err
	}

	plan, err := pipeline.NewRunner(cfg, client, tracker).Plan(ctx)
	if err != nil {
		return err
	}
	md := pipeline.PlanMarkdown(plan)
	if pipelineRaw {
		fmt.Print(md)
		return nil
	}
	out, err := pipeline.RenderMarkdown(md, 0)
	if err != nil {
		logger.Debug("Falling back to raw markdown", zap.Error(err))
		out = md
	}
	fmt.Print(out)
	return nil
}

func runPipelineRun(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(commandName(append([]string{"pipeline run"}, args...)...))
	if err != nil {
		return err
	}
	defer func() { err = s.finish(err) }()

	uploader, closeUploader, err := newUploader(ctx, s.client, s.tracker)
	if err != nil {
		return err
	}
	defer closeUploader()

	runner := pipeline.NewRunner(cfg, s.client, s.tracker, pipeline.WithUploader(uploader))
	steps, err := runner.SelectSteps(args)
	if err != nil {
		return err
	}
	if err := runner.Run(ctx, pipeline.RunOptions{Steps: args, NoWait: pipelineNoWait}); err != nil {
		return err
	}
	if pipelineNoWait {
		printTasks(s.tracker.Tasks())
		return nil
	}
	fmt.Printf("Pipeline complete: %d step(s)\n", len(steps))
	return nil
}
