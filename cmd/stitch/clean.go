package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"stitch/internal/fragment"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <scratch-dir>",
	Short: "Remove intermediates kept by --keep-tmp",
	Long:  "Remove every fragment listed in the scratch directory's index, the index itself and the directory when it is left empty.",
	Args:  cobra.ExactArgs(1),
	RunE:  runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	dir := args[0]
	idx, err := fragment.ReadIndex(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "no retained index in %s\n", dir)
			return nil
		}
		return err
	}

	res, err := removeRetained(dir, idx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "removed %d fragments from %s\n", res.removed, dir)
	if res.missing > 0 {
		_, _ = fmt.Fprintf(out, "%d indexed fragments were already gone\n", res.missing)
	}
	return nil
}

type cleanResult struct {
	removed int
	missing int
}

func removeRetained(dir string, idx *fragment.Index) (cleanResult, error) {
	var res cleanResult
	var err error
	for _, e := range idx.Fragments {
		if e.Location == "" {
			continue
		}
		if !filepath.IsAbs(e.Location) {
			err = multierr.Append(err, fmt.Errorf("fragment %d: location %q is not absolute", e.ID, e.Location))
			continue
		}
		rmErr := os.Remove(e.Location)
		switch {
		case rmErr == nil:
			res.removed++
		case errors.Is(rmErr, fs.ErrNotExist):
			res.missing++
		default:
			err = multierr.Append(err, fmt.Errorf("fragment %d: %w", e.ID, rmErr))
		}
	}
	if err != nil {
		return res, err
	}
	if rmErr := os.Remove(filepath.Join(dir, fragment.IndexFile)); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return res, rmErr
	}
	// leave directories that still hold unrelated files
	entries, readErr := os.ReadDir(dir)
	if readErr == nil && len(entries) == 0 {
		if rmErr := os.Remove(dir); rmErr != nil {
			return res, rmErr
		}
	}
	return res, nil
}
