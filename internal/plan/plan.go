// Package plan reads assembly plans: TOML files that list fragment writes in
// the order a generator produced them, together with the run options.
package plan

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"stitch/internal/fragment"
	"stitch/internal/options"
)

// Write is one append to a fragment. Exactly one of Text and File is used;
// a Write with neither only allocates the fragment.
type Write struct {
	ID   fragment.ID
	Text string
	File string // absolute, or relative to the working directory
}

// Plan is a decoded plan file.
type Plan struct {
	Path    string
	Dir     string
	Options options.Options
	Writes  []Write
	Trailer string
}

type planFile struct {
	Trailer   string          `toml:"trailer"`
	Options   options.Options `toml:"options"`
	Fragments []entry         `toml:"fragment"`
}

type entry struct {
	ID   *int64  `toml:"id"`
	Text *string `toml:"text"`
	File string  `toml:"file"`
}

// Load decodes and validates the plan at path. Relative paths inside the
// plan resolve against the plan's directory and come out absolute.
func Load(path string) (*Plan, error) {
	cfg := planFile{Options: options.Defaults()}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if !meta.IsDefined("fragment") {
		return nil, fmt.Errorf("%s: missing [[fragment]]", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	p := &Plan{
		Path:    path,
		Dir:     dir,
		Options: cfg.Options,
		Trailer: cfg.Trailer,
		Writes:  make([]Write, 0, len(cfg.Fragments)),
	}
	if p.Options.Output != "" && !filepath.IsAbs(p.Options.Output) {
		p.Options.Output = filepath.Join(dir, p.Options.Output)
	}
	if p.Options.ScratchDir != "" && !filepath.IsAbs(p.Options.ScratchDir) {
		p.Options.ScratchDir = filepath.Join(dir, p.Options.ScratchDir)
	}

	for i, e := range cfg.Fragments {
		w, err := e.resolve(dir)
		if err != nil {
			return nil, fmt.Errorf("%s: fragment[%d]: %w", path, i, err)
		}
		p.Writes = append(p.Writes, w)
	}
	return p, nil
}

func (e entry) resolve(dir string) (Write, error) {
	if e.ID == nil {
		return Write{}, errors.New("missing id")
	}
	id, err := safecast.Conv[uint32](*e.ID)
	if err != nil {
		return Write{}, fmt.Errorf("id %d out of range: %w", *e.ID, err)
	}
	w := Write{ID: fragment.ID(id)}
	if e.Text != nil && e.File != "" {
		return Write{}, fmt.Errorf("fragment %d sets both text and file", id)
	}
	if e.Text != nil {
		w.Text = *e.Text
	}
	if e.File != "" {
		w.File = e.File
		if !filepath.IsAbs(w.File) {
			w.File = filepath.Join(dir, w.File)
		}
	}
	return w, nil
}

// Emit replays the writes into s in plan order.
func (p *Plan) Emit(s *fragment.Store) error {
	for _, w := range p.Writes {
		f, err := s.Open(w.ID)
		if err != nil {
			return err
		}
		switch {
		case w.File != "":
			if err := copyFile(f, w.File); err != nil {
				return err
			}
		case w.Text != "":
			if _, err := f.WriteString(w.Text); err != nil {
				return err
			}
		}
	}
	return nil
}

// FragmentCount returns the number of distinct fragment ids the plan touches.
func (p *Plan) FragmentCount() int {
	seen := make(map[fragment.ID]struct{}, len(p.Writes))
	for _, w := range p.Writes {
		seen[w.ID] = struct{}{}
	}
	return len(seen)
}

func copyFile(dst io.Writer, path string) error {
	// #nosec G304 -- fragment sources are listed by the plan author
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fragment source: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()
	_, err = io.Copy(dst, src)
	return err
}
