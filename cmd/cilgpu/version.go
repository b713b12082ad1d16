package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cilgpu/internal/jit"
	"cilgpu/internal/layout"
	"cilgpu/internal/version"
)

// versionReport holds what `cilgpu version` prints; empty fields are hidden.
type versionReport struct {
	Tool       string   `json:"tool"`
	Version    string   `json:"version"`
	GitCommit  string   `json:"git_commit,omitempty"`
	GitMessage string   `json:"git_message,omitempty"`
	BuildDate  string   `json:"build_date,omitempty"`
	Triple     string   `json:"triple,omitempty"`
	Builtins   []string `json:"builtins,omitempty"`
}

// versionSections picks the optional parts of the report.
type versionSections struct {
	hash, message, date, target bool
}

func (s versionSections) any() bool {
	return s.hash || s.message || s.date || s.target
}

func init() {
	f := versionCmd.Flags()
	f.Bool("hash", false, "include git commit hash")
	f.Bool("message", false, "include git commit message")
	f.Bool("date", false, "include build timestamp")
	f.Bool("target", false, "include the default target and builtins")
	f.Bool("full", false, "show every recorded bit of build metadata")
	f.String("format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show cilgpu build fingerprints",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		format, _ := f.GetString("format")
		format = strings.ToLower(strings.TrimSpace(format))
		if format != "pretty" && format != "json" {
			return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
		}
		full, _ := f.GetBool("full")
		flag := func(name string) bool {
			v, _ := f.GetBool(name)
			return v || full
		}
		sections := versionSections{hash: flag("hash"), message: flag("message"), date: flag("date"), target: flag("target")}

		report := buildVersionReport(sections)
		if format == "json" {
			return writeVersionJSON(cmd.OutOrStdout(), report)
		}
		writeVersionPretty(cmd.OutOrStdout(), report, sections)
		return nil
	},
}

func buildVersionReport(s versionSections) versionReport {
	r := versionReport{Tool: "cilgpu", Version: strings.TrimSpace(version.Version)}
	if r.Version == "" {
		r.Version = "dev"
	}
	known := func(v string) string {
		if v = strings.TrimSpace(v); v == "" {
			return "unknown"
		}
		return v
	}
	if s.hash {
		r.GitCommit = known(version.GitCommit)
	}
	if s.message {
		r.GitMessage = known(version.GitMessage)
	}
	if s.date {
		r.BuildDate = known(version.BuildDate)
	}
	if s.target {
		r.Triple = layout.NVPTX64().Triple
		r.Builtins = jit.BuiltinNames()
	}
	return r
}

func writeVersionPretty(out io.Writer, r versionReport, s versionSections) {
	fmt.Fprintf(out, "cilgpu %s\n", version.Colored())
	rows := []struct{ key, value string }{
		{"commit", r.GitCommit},
		{"message", r.GitMessage},
		{"built", r.BuildDate},
		{"target", r.Triple},
	}
	for _, row := range rows {
		if row.value != "" {
			fmt.Fprintf(out, "%-9s%s\n", row.key+":", row.value)
		}
	}
	if s.target {
		fmt.Fprintf(out, "builtins: %d special registers\n", len(r.Builtins))
	}
	if !s.any() {
		fmt.Fprintln(out, "set --hash, --message, --date, --target, or --full for more build trivia")
	}
}

func writeVersionJSON(out io.Writer, r versionReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
