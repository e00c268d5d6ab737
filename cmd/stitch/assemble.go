package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"stitch/internal/options"
	"stitch/internal/pipeline"
	"stitch/internal/plan"
	"stitch/internal/trace"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble [flags] plan.toml...",
	Short: "Assemble one or more fragment plans",
	Long:  "Replay each plan into a fresh fragment store, combine the fragments into the plan's output and remove the scratch files.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  assembleExecution,
}

func init() {
	assembleCmd.Flags().StringP("output", "o", "", "destination file (single plan only)")
	assembleCmd.Flags().Bool("keep-tmp", false, "keep fragment scratch files and write an index")
	assembleCmd.Flags().String("backing", "", "fragment backing (spill|memory|file)")
	assembleCmd.Flags().Int64("spill-threshold", 0, "bytes a spill fragment keeps in memory")
	assembleCmd.Flags().String("scratch-dir", "", "directory for fragment scratch files")
	assembleCmd.Flags().String("trailer", "", "text appended after the fragments (replaces the plan's)")
	assembleCmd.Flags().Int("jobs", 1, "plans assembled concurrently")
}

var bytesPrinter = message.NewPrinter(language.English)

func assembleExecution(cmd *cobra.Command, args []string) error {
	ov, err := readOverrides(cmd)
	if err != nil {
		return err
	}
	if ov.Output != nil && len(args) > 1 {
		return errors.New("--output requires exactly one plan")
	}
	if ov.ScratchDir != nil && len(args) > 1 {
		return errors.New("--scratch-dir requires exactly one plan")
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}

	var trailer *string
	if cmd.Flags().Changed("trailer") {
		value, flagErr := cmd.Flags().GetString("trailer")
		if flagErr != nil {
			return flagErr
		}
		trailer = &value
	}

	tracer, stopTracing, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer stopTracing()

	plans := make([]*plan.Plan, 0, len(args))
	for _, path := range args {
		p, loadErr := plan.Load(path)
		if loadErr != nil {
			return loadErr
		}
		p.Options.Apply(ov)
		if trailer != nil {
			p.Trailer = *trailer
		}
		plans = append(plans, p)
	}

	events := make(chan pipeline.Event, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for evt := range events {
			printFailure(cmd.ErrOrStderr(), evt)
		}
	}()
	reqs := make([]*pipeline.Request, 0, len(plans))
	for _, p := range plans {
		reqs = append(reqs, &pipeline.Request{Plan: p, Progress: pipeline.ChannelSink{Ch: events}})
	}

	span := trace.Begin(tracer, trace.ScopeDriver, "stitch.assemble", 0).
		WithExtra("plans", strconv.Itoa(len(reqs))).
		WithExtra("jobs", strconv.Itoa(jobs))
	ctx := trace.WithSpan(cmd.Context(), span.ID())
	results, runErr := pipeline.AssembleAll(ctx, reqs, jobs)
	close(events)
	<-printed
	if runErr != nil {
		span.End(runErr.Error())
	} else {
		span.End("ok")
	}
	out := cmd.OutOrStdout()
	for _, res := range results {
		if !res.Written {
			continue
		}
		if !quiet {
			printAssembled(out, res)
		}
		if showTimings {
			_, _ = fmt.Fprint(out, res.Timing.String())
		}
	}
	if runErr != nil {
		dumpRing(tracer)
		return runErr
	}
	return nil
}

func readOverrides(cmd *cobra.Command) (options.Overrides, error) {
	var ov options.Overrides
	flags := cmd.Flags()
	if flags.Changed("output") {
		v, err := flags.GetString("output")
		if err != nil {
			return ov, err
		}
		ov.Output = &v
	}
	if flags.Changed("keep-tmp") {
		v, err := flags.GetBool("keep-tmp")
		if err != nil {
			return ov, err
		}
		ov.KeepTmp = &v
	}
	if flags.Changed("backing") {
		v, err := flags.GetString("backing")
		if err != nil {
			return ov, err
		}
		ov.Backing = &v
	}
	if flags.Changed("spill-threshold") {
		v, err := flags.GetInt64("spill-threshold")
		if err != nil {
			return ov, err
		}
		ov.SpillThreshold = &v
	}
	if flags.Changed("scratch-dir") {
		v, err := flags.GetString("scratch-dir")
		if err != nil {
			return ov, err
		}
		ov.ScratchDir = &v
	}
	return ov, nil
}

func printAssembled(out io.Writer, res pipeline.Result) {
	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Fprint(out, "assembled ")
	summary := bytesPrinter.Sprintf("%d fragments, %d bytes", res.Stats.Fragments, res.Stats.Bytes)
	if ms, ok := res.Timing.Duration(string(pipeline.StageCombine)); ok {
		summary += fmt.Sprintf(", combined in %.2f ms", ms)
	}
	_, _ = fmt.Fprintf(out, "%s (%s)\n", res.OutputPath, summary)
	if res.Retained {
		_, _ = color.New(color.FgYellow).Fprintf(out, "  kept intermediates in %s\n", res.ScratchDir)
	}
}

// printFailure reports a failed stage. Successful stages stay silent; the
// summary line is printed once the run finishes.
func printFailure(out io.Writer, evt pipeline.Event) {
	if evt.Status != pipeline.StatusError {
		return
	}
	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Fprintf(out, "%s failed", evt.Stage)
	_, _ = fmt.Fprintf(out, ": %s: %v\n", evt.Plan, evt.Err)
}
