// Package pipeline drives assembly runs: it replays a plan into a fragment
// store, writes the destination and cleans up on every exit path.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"stitch/internal/fragment"
	"stitch/internal/observ"
	"stitch/internal/options"
	"stitch/internal/plan"
	"stitch/internal/trace"
)

// Request configures one run.
type Request struct {
	Plan     *plan.Plan
	Progress ProgressSink
}

// Result describes what a run produced.
type Result struct {
	Plan       string
	OutputPath string
	ScratchDir string
	Written    bool // destination complete, trailer included
	Retained   bool
	Stats      fragment.Stats
	Timing     observ.Report
}

// Assemble runs one plan to completion. Scratch resources are removed
// before it returns, whether the run succeeded or not, unless the plan asks
// to keep them; cleanup failures are joined to the run error.
//
// ctx is checked before combine starts; once the destination is opened the
// run is not interrupted.
func Assemble(ctx context.Context, req *Request) (result Result, err error) {
	if req == nil || req.Plan == nil {
		return result, errors.New("missing assembly request")
	}
	p := req.Plan
	opts := p.Options
	if err := opts.Validate(); err != nil {
		return result, fmt.Errorf("%s: %w", p.Path, err)
	}
	result.Plan = p.Path
	result.OutputPath = opts.Output
	// retained indexes record fragment paths; they must not depend on the cwd
	scratch, err := filepath.Abs(opts.ScratchPath())
	if err != nil {
		return result, fmt.Errorf("failed to resolve scratch dir: %w", err)
	}
	result.ScratchDir = scratch

	if err := ctx.Err(); err != nil {
		return result, err
	}

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeRun, "assemble", trace.CurrentSpan(ctx)).
		WithExtra("plan", p.Path).
		WithExtra("backing", opts.BackingKind().String()).
		WithExtra("fragments", strconv.Itoa(p.FragmentCount()))
	timer := observ.NewTimer()

	createdScratch, err := ensureDir(result.ScratchDir)
	if err != nil {
		span.End("scratch dir failed")
		return result, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	cfg := opts.FragmentConfig()
	cfg.Dir = result.ScratchDir
	cfg.Tracer = tracer
	cfg.Span = span.ID()
	store := fragment.NewStore(cfg)

	defer func() {
		idx := timer.Begin(string(StageCleanup))
		start := time.Now()
		emitStage(req.Progress, p.Path, StageCleanup, StatusWorking, nil, 0)
		retained, cleanupErr := cleanup(store, opts, result.ScratchDir, createdScratch)
		result.Retained = retained
		if cleanupErr != nil {
			emitStage(req.Progress, p.Path, StageCleanup, StatusError, cleanupErr, time.Since(start))
			err = errors.Join(err, fmt.Errorf("cleanup failed: %w", cleanupErr))
		} else {
			emitStage(req.Progress, p.Path, StageCleanup, StatusDone, nil, time.Since(start))
		}
		note := "removed"
		if retained {
			note = "retained in " + result.ScratchDir
		}
		timer.End(idx, note)
		result.Timing = timer.Report()

		detail := "ok"
		if err != nil {
			detail = err.Error()
		}
		span.End(detail)
	}()

	if err := runStage(req.Progress, p.Path, StageEmit, timer, func() (string, error) {
		if err := p.Emit(store); err != nil {
			return "", err
		}
		return strconv.Itoa(store.Len()) + " fragments", nil
	}); err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if err := writeOutput(req.Progress, p, store, timer); err != nil {
		return result, err
	}
	result.Written = true
	result.Stats = store.Stats()
	return result, nil
}

// writeOutput creates the destination, combines into it and appends the
// trailer. A failure leaves a partial destination behind.
func writeOutput(sink ProgressSink, p *plan.Plan, store *fragment.Store, timer *observ.Timer) (err error) {
	out := p.Options.Output
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	// #nosec G304 -- output path comes from the plan or the command line
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output %q: %w", out, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output %q: %w", out, closeErr)
		}
	}()

	w := bufio.NewWriter(f)
	if err := store.SetDestination(w); err != nil {
		return err
	}

	if err := runStage(sink, p.Path, StageCombine, timer, func() (string, error) {
		if err := store.Combine(); err != nil {
			return "", err
		}
		stats := store.Stats()
		return fmt.Sprintf("%d fragments, %d bytes", stats.Fragments, stats.Bytes), nil
	}); err != nil {
		return err
	}

	return runStage(sink, p.Path, StageTrailer, timer, func() (string, error) {
		if _, err := w.WriteString(p.Trailer); err != nil {
			return "", err
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("failed to write output %q: %w", out, err)
		}
		return strconv.Itoa(len(p.Trailer)) + " bytes", nil
	})
}

func runStage(sink ProgressSink, planPath string, stage Stage, timer *observ.Timer, fn func() (string, error)) error {
	idx := timer.Begin(string(stage))
	start := time.Now()
	emitStage(sink, planPath, stage, StatusWorking, nil, 0)
	note, err := fn()
	if err != nil {
		timer.End(idx, "failed")
		emitStage(sink, planPath, stage, StatusError, err, time.Since(start))
		return err
	}
	timer.End(idx, note)
	emitStage(sink, planPath, stage, StatusDone, nil, time.Since(start))
	return nil
}

// cleanup removes every scratch resource, or records them in an index when
// the run keeps its intermediates.
func cleanup(store *fragment.Store, opts options.Options, dir string, createdDir bool) (bool, error) {
	if opts.KeepTmp {
		// fragments a failed run never combined still sit in write buffers
		sealErr := store.Seal()
		indexErr := fragment.WriteIndex(dir, &fragment.Index{
			Destination: opts.Output,
			Backing:     opts.BackingKind().String(),
			Created:     time.Now().UTC(),
			Combined:    store.Combined(),
			Fragments:   store.Entries(),
		})
		return true, errors.Join(sealErr, indexErr)
	}
	if err := store.RemoveFiles(); err != nil {
		return false, err
	}
	if !createdDir {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if opts.ScratchDir == "" {
		// the shared parent may hold other runs' scratch dirs
		_ = os.Remove(filepath.Dir(dir))
	}
	return false, nil
}

// ensureDir creates dir if needed and reports whether it did.
func ensureDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%q is not a directory", dir)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, err
	}
	return true, nil
}

// AssembleAll runs the requests with at most jobs runs in flight. Every
// run has its own store; a failing run cancels the ones that have not
// started combining yet. Results keep the order of reqs.
func AssembleAll(ctx context.Context, reqs []*Request, jobs int) ([]Result, error) {
	if jobs <= 0 {
		jobs = 1
	}
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := Assemble(gctx, req)
			results[i] = res
			return err
		})
	}
	return results, g.Wait()
}
