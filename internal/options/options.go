// Package options holds the settings an assembly run consumes: where the
// output goes, how fragments are backed and whether intermediates survive
// the run.
package options

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"stitch/internal/fragment"
)

// DefaultScratchDir is created next to the output when ScratchDir is empty.
const DefaultScratchDir = ".stitch-tmp"

// Options configures one run.
type Options struct {
	Output         string `toml:"output"`
	KeepTmp        bool   `toml:"keep_tmp"`
	Backing        string `toml:"backing"`
	SpillThreshold int64  `toml:"spill_threshold"`
	ScratchDir     string `toml:"scratch_dir"`
	Debug          Debug  `toml:"debug"`
}

// Debug carries diagnostic toggles shared with the code generator. The
// assembler accepts them so one options table serves both, and ignores them.
type Debug struct {
	Internal    bool `toml:"internal"`
	Topological bool `toml:"topological"`
	Verbose     bool `toml:"verbose"`
	Quiet       bool `toml:"quiet"`
}

// Defaults returns the options used when neither the plan nor the command
// line sets a value.
func Defaults() Options {
	return Options{
		Backing:        fragment.BackingSpill.String(),
		SpillThreshold: fragment.DefaultSpillThreshold,
	}
}

// Validate checks the options and normalizes the backing name.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.Output) == "" {
		return errors.New("missing output path")
	}
	kind, err := fragment.ParseBackingKind(o.Backing)
	if err != nil {
		return err
	}
	o.Backing = kind.String()
	if o.SpillThreshold < 0 {
		return fmt.Errorf("spill_threshold must not be negative, got %d", o.SpillThreshold)
	}
	return nil
}

// BackingKind returns the parsed backing. Retaining intermediates forces
// file backing so every fragment exists on disk after the run.
func (o Options) BackingKind() fragment.BackingKind {
	if o.KeepTmp {
		return fragment.BackingFile
	}
	kind, err := fragment.ParseBackingKind(o.Backing)
	if err != nil {
		return fragment.BackingSpill
	}
	return kind
}

// ScratchPath returns the directory that holds scratch files for the run.
func (o Options) ScratchPath() string {
	if o.ScratchDir != "" {
		return o.ScratchDir
	}
	out := filepath.Clean(o.Output)
	return filepath.Join(filepath.Dir(out), DefaultScratchDir, filepath.Base(out))
}

// FragmentConfig builds the store configuration for this run.
func (o Options) FragmentConfig() fragment.Config {
	return fragment.Config{
		Backing:        o.BackingKind(),
		Dir:            o.ScratchPath(),
		SpillThreshold: o.SpillThreshold,
	}
}

// Overrides holds values set explicitly on the command line. Nil fields
// leave the plan's value alone.
type Overrides struct {
	Output         *string
	KeepTmp        *bool
	Backing        *string
	SpillThreshold *int64
	ScratchDir     *string
}

// Apply copies every set override into o.
func (o *Options) Apply(ov Overrides) {
	if ov.Output != nil {
		o.Output = *ov.Output
	}
	if ov.KeepTmp != nil {
		o.KeepTmp = *ov.KeepTmp
	}
	if ov.Backing != nil {
		o.Backing = *ov.Backing
	}
	if ov.SpillThreshold != nil {
		o.SpillThreshold = *ov.SpillThreshold
	}
	if ov.ScratchDir != nil {
		o.ScratchDir = *ov.ScratchDir
	}
}
