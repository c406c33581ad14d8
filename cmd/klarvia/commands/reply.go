package commands

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/klarvia/internal/output"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// replyResult is one answered message.
type replyResult struct {
	Input      string `json:"input" yaml:"input"`
	Reply      string `json:"reply" yaml:"reply"`
	Strategy   string `json:"strategy" yaml:"strategy"`
	Degraded   bool   `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
}

func (r replyResult) Text() string { return r.Reply }

var replyCmd = &cobra.Command{
	Use:   "reply [text...]",
	Short: "Reply to a message from the command line or stdin",
	Long: `Reply to a single message made of the joined arguments, or to each
line read from stdin when no arguments are given.

Examples:
  klarvia reply "I could use some help"
  printf 'hello\nthanks\n' | klarvia reply --format jsonl`,
	RunE: runReply,
}

func init() {
	rootCmd.AddCommand(replyCmd)

	replyCmd.Flags().StringP("format", "f", "text", "output format: text, json, jsonl, yaml")
}

func runReply(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	formatName, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}
	w, err := output.NewWriter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}

	// The last event belongs to the message just answered; replies run
	// sequentially here.
	var last reply.CallEvent
	svc := reply.NewService(newResolver(), reply.WithObserver(reply.NewMultiObserver(
		reply.LogObserver(),
		reply.ObserverFunc(func(_ context.Context, ev reply.CallEvent) { last = ev }),
	)))

	answer := func(text string) error {
		last = reply.CallEvent{}
		start := time.Now()
		out := svc.ReplyText(ctx, text)
		res := replyResult{
			Input:      text,
			Reply:      out,
			Degraded:   last.Degraded,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if st := svc.Resolver().Strategy(); st != nil {
			res.Strategy = st.Kind().String()
		}
		return w.Write(res)
	}

	if len(args) > 0 {
		if err := answer(strings.Join(args, " ")); err != nil {
			return err
		}
		return w.Flush()
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := answer(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return w.Flush()
}
