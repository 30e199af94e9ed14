package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/infrastructure/predictionapi"
	"github.com/drfirst/go-retinarisk/internal/render"
	"github.com/drfirst/go-retinarisk/internal/session"
	"github.com/drfirst/go-retinarisk/internal/submission"
	"github.com/drfirst/go-retinarisk/pkg/workerpool"
)

// batchRow is the outcome for one input record
type batchRow struct {
	Index    int
	Stage    string
	Overall  string
	Risk     string
	FollowUp string
	Err      error
}

func (a *app) batchCmd() *cobra.Command {
	var (
		file    string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Score a JSON array of partial records, each merged over the default record",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(file)
			if err != nil {
				return failed(err)
			}
			defer in.Close()

			records, err := readBatch(in)
			if err != nil {
				return validationFailed(err)
			}

			p, err := a.predictor()
			if err != nil {
				return failed(err)
			}

			rows, err := scoreBatch(cmd.Context(), a.newSession, p, records, workers, a.logger)
			if err != nil {
				return failed(err)
			}

			failures := writeBatch(a.out, rows)
			if c, ok := p.(*predictionapi.Client); ok {
				if h := c.Breaker(); !h.Healthy {
					fmt.Fprintf(a.errOut, "circuit breaker %s is %s; records rejected by it were not sent\n", h.Name, h.State)
				}
			}
			if failures > 0 {
				return failed(fmt.Errorf("%d of %d records failed", failures, len(rows)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file with an array of records, - for stdin")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent submissions")
	return cmd
}

func openInput(file string) (io.ReadCloser, error) {
	if file == "" || file == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open batch file: %w", err)
	}
	return f, nil
}

func readBatch(r io.Reader) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("batch input must be a JSON array of objects: %w", err)
	}
	return records, nil
}

// scoreBatch runs every record in its own session on a worker pool. Rows come
// back in input order; per-record failures are reported in the row.
func scoreBatch(ctx context.Context, newSession func(submission.Predictor) *session.Session, p submission.Predictor, records []map[string]any, workers int, logger *zap.Logger) ([]batchRow, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}

	cfg := workerpool.DefaultConfig()
	cfg.Workers = workers
	cfg.QueueSize = len(records) + 1
	pool, err := workerpool.New(cfg, func(ctx context.Context, task *workerpool.Task[map[string]any]) (batchRow, error) {
		s := newSession(p)
		if err := s.Intake.Apply(task.Payload); err != nil {
			return batchRow{}, err
		}
		state, err := s.SubmitWait(ctx)
		if err != nil {
			return batchRow{}, err
		}
		if state.Phase == submission.PhaseFailed {
			return batchRow{}, state.Failure
		}
		v := render.BuildView(state.Result)
		return batchRow{
			Stage:    v.Stage,
			Overall:  state.Result.OverallRisk.Category,
			Risk:     render.PercentageLabel(state.Result.OverallRisk.Value),
			FollowUp: v.FollowUp,
		}, nil
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create batch pool: %w", err)
	}
	pool.Start()
	defer func() { _ = pool.Stop() }()

	type pending struct {
		index int
		done  chan batchRow
	}
	waits := make([]pending, len(records))
	for i, rec := range records {
		w := pending{index: i, done: make(chan batchRow, 1)}
		waits[i] = w
		go func() {
			res, err := pool.SubmitWait(ctx, &workerpool.Task[map[string]any]{
				ID:      strconv.Itoa(i),
				Payload: rec,
				Context: ctx,
			})
			row := res.Data
			if err == nil {
				err = res.Err
			}
			row.Index = i
			row.Err = err
			w.done <- row
		}()
	}

	rows := make([]batchRow, len(records))
	for _, w := range waits {
		rows[w.index] = <-w.done
	}
	return rows, nil
}

func writeBatch(w io.Writer, rows []batchRow) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDR STAGE\tOVERALL\tRISK\tFOLLOW-UP")
	failures := 0
	for _, r := range rows {
		if r.Err != nil {
			failures++
			fmt.Fprintf(tw, "%d\terror: %v\t\t\t\n", r.Index, r.Err)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Index, r.Stage, r.Overall, r.Risk, r.FollowUp)
	}
	_ = tw.Flush()
	return failures
}
