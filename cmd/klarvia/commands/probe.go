package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/klarvia/internal/output"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// probeReport describes the outcome of strategy resolution.
type probeReport struct {
	Strategy string         `json:"strategy" yaml:"strategy"`
	Backend  string         `json:"backend,omitempty" yaml:"backend,omitempty"`
	Ready    bool           `json:"inference_ready" yaml:"inference_ready"`
	Attempts []probeAttempt `json:"attempts" yaml:"attempts"`
	Config   reply.Config   `json:"config" yaml:"config"`
}

type probeAttempt struct {
	Kind       string `json:"kind" yaml:"kind"`
	Backend    string `json:"backend,omitempty" yaml:"backend,omitempty"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r probeReport) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategy:   %s\n", r.Strategy)
	if r.Backend != "" {
		fmt.Fprintf(&b, "Backend:    %s\n", r.Backend)
	}
	fmt.Fprintf(&b, "Ready:      %t\n", r.Ready)
	if len(r.Attempts) > 0 {
		b.WriteString("Attempts:\n")
	}
	for _, a := range r.Attempts {
		status := "ok"
		if a.Error != "" {
			status = a.Error
		}
		fmt.Fprintf(&b, "  %-14s %-8s %s\n", a.Kind, humanize.Comma(a.DurationMs)+"ms", status)
	}
	fmt.Fprintf(&b, "Hint:       %s\n", displayOr(string(r.Config.Hint), "auto"))
	fmt.Fprintf(&b, "Device:     %s\n", displayOr(r.Config.Device, "auto"))
	fmt.Fprintf(&b, "Runtime:    %s\n", r.Config.RuntimeHost)
	return b.String()
}

func displayOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Resolve the reply strategy and report how it was chosen",
	Long: `Run strategy resolution once and print the chosen strategy, every
backend attempt with its outcome, and the effective configuration.

Examples:
  klarvia probe
  MODEL_IMPL=unsloth MODEL_PATH=./adapter klarvia probe --format yaml`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringP("format", "f", "text", "output format: text, json, yaml")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	formatName, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}
	w, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	r := newResolver()
	st := r.Resolve(commandContext(cmd))

	report := probeReport{
		Strategy: st.Kind().String(),
		Backend:  st.Backend(),
		Ready:    r.Ready(),
		Config:   r.Config(),
	}
	for _, a := range r.Attempts() {
		pa := probeAttempt{
			Kind:       a.Kind.String(),
			Backend:    a.Backend,
			DurationMs: a.Duration.Milliseconds(),
		}
		if a.Err != nil {
			pa.Error = a.Err.Error()
		}
		report.Attempts = append(report.Attempts, pa)
	}

	if err := w.Write(report); err != nil {
		return err
	}
	return w.Flush()
}
