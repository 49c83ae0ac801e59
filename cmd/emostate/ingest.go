package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/internal/engine"
	"github.com/thebtf/emostate/internal/signal"
	"github.com/thebtf/emostate/pkg/models"
)

// maxLineSize bounds one JSONL signal.
const maxLineSize = 1 << 20

var (
	ingestMessage string
	ingestUser    string
	ingestTopic   string

	ingestCmd = &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Ingest JSONL signals from a file or stdin, or one message via the extractor",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIngest,
	}
)

func init() {
	ingestCmd.Flags().StringVarP(&ingestMessage, "message", "m", "", "message text to run through the configured extractor")
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "user ID for --message")
	ingestCmd.Flags().StringVarP(&ingestTopic, "topic", "t", "", "topic ID for --message")
}

// ingestLine is the per-signal result written to stdout.
type ingestLine struct {
	Line        int                      `json:"line"`
	SignalID    string                   `json:"signal_id,omitempty"`
	Key         string                   `json:"key,omitempty"`
	Tier        models.Tier              `json:"tier,omitempty"`
	Score       float64                  `json:"score"`
	Transitions []models.TransitionEvent `json:"transitions,omitempty"`
	Duplicate   bool                     `json:"duplicate,omitempty"`
	Rejected    string                   `json:"rejected,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

type ingestSummary struct {
	Accepted   int
	Duplicates int
	Rejected   int
	Failed     int
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if ingestMessage != "" {
		return ingestFromMessage(ctx, a, cmd.OutOrStdout())
	}

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	sum, err := ingestStream(ctx, a.engine, in, cmd.OutOrStdout())
	log.Info().
		Int("accepted", sum.Accepted).
		Int("duplicates", sum.Duplicates).
		Int("rejected", sum.Rejected).
		Int("failed", sum.Failed).
		Msg("Ingest finished")
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d signals failed", sum.Failed)
	}
	return nil
}

func ingestFromMessage(ctx context.Context, a *app, out io.Writer) error {
	if ingestUser == "" {
		return errors.New("--user is required with --message")
	}
	ex, err := a.extractor(cfg.Extractor)
	if err != nil {
		return err
	}
	if ex == nil {
		return errors.New("no extractor configured; set extractor.provider")
	}
	ev, err := a.engine.Adapter().FromMessage(ctx, ex, ingestUser, ingestTopic, ingestMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	res, err := a.engine.Ingest(ctx, ev)
	line := resultLine(1, res, err)
	if encErr := json.NewEncoder(out).Encode(line); encErr != nil {
		return encErr
	}
	if line.Error != "" {
		return err
	}
	return nil
}

// ingestStream feeds each JSONL line through eng. Rejected signals are
// reported and skipped; storage failures are reported and counted. Only read
// errors and cancellation stop the stream.
func ingestStream(ctx context.Context, eng *engine.Engine, r io.Reader, w io.Writer) (ingestSummary, error) {
	var sum ingestSummary
	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var raw signal.RawSignal
		var line ingestLine
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			line = ingestLine{Line: n, Rejected: fmt.Sprintf("decode: %v", err)}
		} else {
			res, err := eng.IngestRaw(ctx, raw)
			line = resultLine(n, res, err)
		}

		switch {
		case line.Rejected != "":
			sum.Rejected++
		case line.Error != "":
			sum.Failed++
		case line.Duplicate:
			sum.Duplicates++
		default:
			sum.Accepted++
		}
		if err := enc.Encode(line); err != nil {
			return sum, err
		}
	}
	return sum, scanner.Err()
}

func resultLine(n int, res engine.Result, err error) ingestLine {
	line := ingestLine{Line: n}
	switch {
	case errors.Is(err, signal.ErrMalformed), errors.Is(err, signal.ErrLowConfidence):
		line.Rejected = err.Error()
		return line
	case errors.Is(err, db.ErrConflict):
		line.Error = "conflict: " + err.Error()
		return line
	case err != nil:
		line.Error = err.Error()
		return line
	}
	line.SignalID = res.Event.ID
	line.Key = res.Event.Key().String()
	line.Tier = res.Tier
	line.Score = res.Score.FinalScore
	line.Transitions = res.Transitions
	line.Duplicate = res.Duplicate
	return line
}
