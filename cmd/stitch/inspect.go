package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"stitch/internal/fragment"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <scratch-dir>",
	Short: "Show the fragments kept by --keep-tmp",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	idx, err := fragment.ReadIndex(args[0])
	if err != nil {
		return fmt.Errorf("no retained index in %s: %w", args[0], err)
	}
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(idx)
	case "pretty":
		return renderIndex(cmd.OutOrStdout(), idx)
	default:
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
}

func renderIndex(out io.Writer, idx *fragment.Index) error {
	bold := color.New(color.Bold)
	status := color.New(color.FgGreen).Sprint("combined")
	if !idx.Combined {
		status = color.New(color.FgRed).Sprint("not combined")
	}
	var total int64
	for _, e := range idx.Fragments {
		total += e.Size
	}

	var sb strings.Builder
	_, _ = bold.Fprint(&sb, "destination ")
	sb.WriteString(idx.Destination + " (" + status + ")\n")
	_, _ = bold.Fprint(&sb, "backing     ")
	sb.WriteString(idx.Backing + "\n")
	_, _ = bold.Fprint(&sb, "created     ")
	sb.WriteString(idx.Created.Local().Format("2006-01-02 15:04:05") + "\n")
	sb.WriteString(bytesPrinter.Sprintf("%d fragments, %d bytes\n\n", len(idx.Fragments), total))

	rows := [][]string{{"ID", "STATE", "SIZE", "LOCATION"}}
	for _, e := range idx.Fragments {
		location := e.Location
		if location == "" {
			location = "(memory)"
		}
		rows = append(rows, []string{
			fmt.Sprint(e.ID),
			e.State.String(),
			bytesPrinter.Sprintf("%d", e.Size),
			location,
		})
	}
	writeTable(&sb, rows)

	_, err := io.WriteString(out, sb.String())
	return err
}

// writeTable pads every column but the last to its widest cell.
func writeTable(sb *strings.Builder, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		sb.WriteString("\n")
	}
}
