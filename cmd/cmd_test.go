package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taar/callqa-pipeline/audio"
	"github.com/taar/callqa-pipeline/config"
	"github.com/taar/callqa-pipeline/evaluation"
	"github.com/taar/callqa-pipeline/orchestrator"
	"github.com/taar/callqa-pipeline/store"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "callqa.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
pipeline:
  log_level: error
services:
  evaluation:
    api_key: sk-secret-value
storage:
  driver: sqlite
  dsn: `+filepath.Join(dir, "callqa.db")+`
batch:
  workers: 3
`), 0o644))
	return &env{dir: dir, config: cfgPath}
}

// run executes the CLI with args and returns stdout.
func (e *env) run(t *testing.T, cc func(*commandContext), args ...string) (string, error) {
	t.Helper()
	var configFlag, logLevelFlag string
	ctx := newCommandContext(&configFlag, &logLevelFlag)
	if cc != nil {
		cc(ctx)
	}
	root := newRootCommand(ctx, &configFlag, &logLevelFlag)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func scored(id, agent string, minute int, scores ...float64) *orchestrator.CallAnalysis {
	rec := make(evaluation.Record, len(scores))
	for i := range scores {
		s := scores[i]
		rec[i] = evaluation.KPIScore{KPINumber: i + 1, Score: &s}
	}
	return &orchestrator.CallAnalysis{
		ID:         id,
		AgentName:  agent,
		CreatedAt:  time.Date(2026, 2, 1, 10, minute, 0, 0, time.UTC),
		Evaluation: rec,
	}
}

func (e *env) importFixtures(t *testing.T) {
	t.Helper()
	exports := filepath.Join(e.dir, "exports")
	var paths []string
	for _, a := range []*orchestrator.CallAnalysis{
		scored("a1", "Alice", 0, 2, 5),
		scored("a2", "Alice", 1, 1, 4),
		scored("b1", "Bob", 2, 5, 5),
	} {
		p, err := orchestrator.Export(exports, a)
		require.NoError(t, err)
		paths = append(paths, p)
	}
	out, err := e.run(t, nil, append([]string{"import"}, paths...)...)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "Imported"))
}

func TestReportCommands(t *testing.T) {
	e := newEnv(t)
	e.importFixtures(t)

	out, err := e.run(t, nil, "agents")
	require.NoError(t, err)
	assert.Equal(t, "Alice\nBob\n", out)

	out, err = e.run(t, nil, "leaderboard")
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "Bob"), strings.Index(out, "Alice"))
	assert.Contains(t, out, "5.00")
	assert.Contains(t, out, "3.00")

	out, err = e.run(t, nil, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Analyses")
	assert.Contains(t, out, "3.67")

	out, err = e.run(t, nil, "mistakes", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Repeated mistakes for Alice")
	assert.Contains(t, out, "Was the customer greeted")

	out, err = e.run(t, nil, "mistakes", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, "No repeated mistakes for Bob")

	out, err = e.run(t, nil, "results", "--agent", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "a2")
	assert.NotContains(t, out, "b1")
}

func TestImportRejectsDuplicates(t *testing.T) {
	e := newEnv(t)
	e.importFixtures(t)

	_, err := e.run(t, nil, "import", filepath.Join(e.dir, "exports", "a1.json"))
	var pe *store.PersistenceError
	assert.True(t, errors.As(err, &pe))
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, nil, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "****alue")
	assert.NotContains(t, out, "sk-secret-value")
	assert.Contains(t, out, "workers: 3")
}

func TestConfigInvalid(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.config, []byte("storage:\n  driver: oracle\n"), 0o644))
	_, err := e.run(t, nil, "config", "validate")
	assert.Error(t, err)
}

type stubASR struct{}

func (stubASR) Transcribe(context.Context, string) (string, error) { return "hello", nil }

type stubEval struct{}

func (stubEval) Evaluate(context.Context, string) (evaluation.Record, error) {
	s := 1.0
	return evaluation.Record{{KPINumber: 7, Score: &s, Justification: "no closing"}}, nil
}

type stubEmotion struct{}

func (stubEmotion) Analyze(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[{"results": {"predictions": [{"models": {"prosody": {"grouped_predictions": [
		{"predictions": [{"emotions": [{"name": "Calmness", "score": 0.8}]}]}]}}}]}}]`), nil
}

func stubPipeline(ctx *commandContext) {
	ctx.newPipeline = func(c *config.Root, log *logrus.Logger, st store.Store) (*orchestrator.Pipeline, error) {
		return orchestrator.NewPipeline(stubASR{}, stubEval{}, stubEmotion{},
			orchestrator.WithSaver(st), orchestrator.WithLogger(log), orchestrator.WithTempDir(c.Audio.TempDir)), nil
	}
}

func writeStereo(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, audio.WriteWAV(path, &audio.Waveform{
		Channels: 2, SampleWidth: 2, FrameRate: 8000, Data: []byte{1, 0, 2, 0, 3, 0, 4, 0},
	}))
}

func TestAnalyzeCommand(t *testing.T) {
	e := newEnv(t)
	wav := filepath.Join(e.dir, "call.wav")
	writeStereo(t, wav)

	out, err := e.run(t, stubPipeline, "analyze", wav, "--agent", "Erin")
	require.NoError(t, err)
	assert.Contains(t, out, "agent=Erin")
	assert.Contains(t, out, "no closing")
	assert.Contains(t, out, "Calmness 80.00")

	out, err = e.run(t, stubPipeline, "analyze", wav, "--agent", "Erin", "--json")
	require.NoError(t, err)
	var a orchestrator.CallAnalysis
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, "Erin", a.AgentName)

	out, err = e.run(t, nil, "mistakes", "Erin")
	require.NoError(t, err)
	assert.Contains(t, out, "Was the proper closing script followed?")
}

func TestBatchCommand(t *testing.T) {
	e := newEnv(t)
	calls := filepath.Join(e.dir, "calls")
	require.NoError(t, os.Mkdir(calls, 0o755))
	writeStereo(t, filepath.Join(calls, "one.wav"))
	writeStereo(t, filepath.Join(calls, "two.WAV"))
	require.NoError(t, os.WriteFile(filepath.Join(calls, "broken.wav"), []byte("not audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(calls, "notes.txt"), nil, 0o644))

	out, err := e.run(t, stubPipeline, "batch", calls, "--agent", "Finn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.wav")
	assert.Contains(t, out, "Analyzed 2 of 3 files")

	out, err = e.run(t, nil, "results", "--agent", "Finn")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Finn"))
}

type countingAnalyzer struct {
	mu       sync.Mutex
	inFlight int32
	peak     int32
	fail     map[string]bool
}

func (c *countingAnalyzer) AnalyzeFile(_ context.Context, path, agent string) (*orchestrator.CallAnalysis, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	c.mu.Lock()
	if n > c.peak {
		c.peak = n
	}
	c.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if c.fail[filepath.Base(path)] {
		return nil, errors.New("boom")
	}
	return &orchestrator.CallAnalysis{ID: path, AgentName: agent}, nil
}

func TestRunBatchBoundsWorkers(t *testing.T) {
	log, hook := test.NewNullLogger()
	a := &countingAnalyzer{fail: map[string]bool{"c.wav": true, "a.wav": true}}
	files := []string{"/x/a.wav", "/x/b.wav", "/x/c.wav", "/x/d.wav", "/x/e.wav", "/x/f.wav"}

	res := runBatch(context.Background(), a, files, "Gus", 2, log)
	assert.Equal(t, 4, res.succeeded)
	assert.Equal(t, []string{"a.wav", "c.wav"}, res.failed)
	assert.LessOrEqual(t, a.peak, int32(2))

	var errorsLogged int
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 2, errorsLogged)
}

func TestListWAVs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.wav", "a.WAV", "c.mp3"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "d.wav"), 0o755))

	files, err := listWAVs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.WAV"), filepath.Join(dir, "b.wav")}, files)

	_, err = listWAVs(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"1"}, {"2", "3"}}, []columnAlignment{alignRight})
	assert.Contains(t, out, "A")
	assert.Contains(t, out, "3")
	assert.Empty(t, renderTable(nil, nil, nil))
}
