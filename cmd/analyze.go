package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taar/callqa-pipeline/api"
	"github.com/taar/callqa-pipeline/emotion"
	"github.com/taar/callqa-pipeline/orchestrator"
	"github.com/taar/callqa-pipeline/store"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var agent string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Analyze one stereo call recording and store the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				p, err := ctx.pipeline(st)
				if err != nil {
					return err
				}
				a, err := p.AnalyzeFile(cmd.Context(), args[0], agent)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(a)
				}
				printAnalysis(cmd.OutOrStdout(), a)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&agent, "agent", "a", api.DefaultAgent, "Agent name recorded with the analysis")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full analysis as JSON")
	return cmd
}

func printAnalysis(w io.Writer, a *orchestrator.CallAnalysis) {
	fmt.Fprintf(w, "Analysis %s  agent=%s  file=%s\n", a.ID, a.AgentName, a.AudioFilename)

	rows := make([][]string, 0, len(a.Evaluation))
	for _, k := range a.Evaluation {
		score := "-"
		if k.Score != nil {
			score = strconv.FormatFloat(*k.Score, 'f', -1, 64)
		}
		penalty := ""
		if k.Penalty {
			penalty = "yes"
		}
		rows = append(rows, []string{strconv.Itoa(k.KPINumber), score, penalty, k.Justification})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"KPI", "Score", "Penalty", "Justification"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
	))

	s := a.EmotionSummary
	mode := "-"
	if s.Mode != nil {
		mode = strconv.FormatFloat(*s.Mode, 'f', 2, 64)
	}
	fmt.Fprintf(w, "Emotions: mean=%.2f median=%.2f mode=%s range=%.2f\n", s.Mean, s.Median, mode, s.Range)
	fmt.Fprintf(w, "Top positive: %s\n", joinScores(s.TopPositive))
	fmt.Fprintf(w, "Top negative: %s\n", joinScores(s.TopNegative))
}

func joinScores(scores []emotion.Score) string {
	if len(scores) == 0 {
		return "-"
	}
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%s %.2f", s.Name, s.Score)
	}
	return strings.Join(parts, ", ")
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var agent string
	var workers int

	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Analyze every .wav file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := listWAVs(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No .wav files in %s\n", args[0])
				return nil
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Batch.Workers
			}

			return ctx.withStore(cmd.Context(), func(st store.Store) error {
				p, err := ctx.pipeline(st)
				if err != nil {
					return err
				}
				res := runBatch(cmd.Context(), p, files, agent, workers, ctx.log())
				fmt.Fprintf(cmd.OutOrStdout(), "Analyzed %d of %d files\n", res.succeeded, len(files))
				if len(res.failed) > 0 {
					return fmt.Errorf("%d file(s) failed: %s", len(res.failed), strings.Join(res.failed, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&agent, "agent", "a", api.DefaultAgent, "Agent name recorded with each analysis")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent analyses (default batch.workers)")
	return cmd
}

type batchResult struct {
	succeeded int
	failed    []string
}

// runBatch analyzes files with at most workers in flight. A failed file is
// logged and recorded; the others still run.
func runBatch(ctx context.Context, a fileAnalyzer, files []string, agent string, workers int, log *logrus.Logger) batchResult {
	if workers <= 0 {
		workers = 1
	}
	var (
		mu        sync.Mutex
		failed    []string
		succeeded atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		g.Go(func() error {
			res, err := a.AnalyzeFile(gctx, f, agent)
			if err != nil {
				log.WithError(err).WithField("file", f).Error("analysis failed")
				mu.Lock()
				failed = append(failed, filepath.Base(f))
				mu.Unlock()
				return nil
			}
			log.WithFields(logrus.Fields{"file": f, "analysis": res.ID}).Info("analysis stored")
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failed)
	return batchResult{succeeded: int(succeeded.Load()), failed: failed}
}

func listWAVs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
