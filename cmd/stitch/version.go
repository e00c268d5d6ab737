package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stitch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show stitch build metadata",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		info := version.Current()
		switch strings.ToLower(format) {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case "pretty":
			renderVersionPretty(cmd.OutOrStdout(), info)
			return nil
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func renderVersionPretty(out io.Writer, info version.Info) {
	name := color.New(color.FgCyan, color.Bold)
	ver := color.New(color.FgYellow, color.Bold)
	_, _ = fmt.Fprintf(out, "%s %s\n", name.Sprint("stitch"), ver.Sprint(info.Version))
	if info.GitCommit != "" {
		_, _ = fmt.Fprintf(out, "  commit %s\n", info.GitCommit)
	}
	if info.BuildDate != "" {
		_, _ = fmt.Fprintf(out, "  built  %s\n", info.BuildDate)
	}
}
