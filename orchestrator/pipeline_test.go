package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taar/callqa-pipeline/audio"
	"github.com/taar/callqa-pipeline/clients"
	"github.com/taar/callqa-pipeline/emotion"
	"github.com/taar/callqa-pipeline/evaluation"
)

const predictions = `[{"results": {"predictions": [{"models": {
  "prosody": {"grouped_predictions": [{"id": "unknown", "predictions": [
    {"emotions": [{"name": "Joy", "score": 0.5}, {"name": "Anger", "score": 0.1}]},
    {"emotions": [{"name": "Joy", "score": 0.7}]}
  ]}]}
}}]}}]`

type fakeASR struct {
	calls int
	err   error
	seen  []byte
}

func (f *fakeASR) Transcribe(_ context.Context, path string) (string, error) {
	f.calls++
	f.seen, _ = os.ReadFile(path)
	if f.err != nil {
		return "", f.err
	}
	return "thank you for calling", nil
}

type fakeEval struct {
	calls int
	err   error
}

func (f *fakeEval) Evaluate(_ context.Context, transcript string) (evaluation.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := 4.0
	return evaluation.Record{{KPINumber: 1, Description: "greeting", Score: &s}}, nil
}

type fakeEmotion struct {
	calls int
	err   error
	raw   string
}

func (f *fakeEmotion) Analyze(_ context.Context, _ string) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.raw != "" {
		return json.RawMessage(f.raw), nil
	}
	return json.RawMessage(predictions), nil
}

type fakeSaver struct {
	saved []*CallAnalysis
	err   error
}

func (f *fakeSaver) Save(_ context.Context, a *CallAnalysis) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, a)
	return nil
}

type fixture struct {
	asr   *fakeASR
	eval  *fakeEval
	emo   *fakeEmotion
	saver *fakeSaver
	dir   string
	hook  *test.Hook
	p     *Pipeline
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	f := &fixture{
		asr:   &fakeASR{},
		eval:  &fakeEval{},
		emo:   &fakeEmotion{},
		saver: &fakeSaver{},
		dir:   t.TempDir(),
		hook:  hook,
	}
	base := []Option{WithTempDir(f.dir), WithLogger(log), WithSaver(f.saver)}
	f.p = NewPipeline(f.asr, f.eval, f.emo, append(base, opts...)...)
	return f
}

func (f *fixture) leftovers(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func stereoCall(t *testing.T) []byte {
	t.Helper()
	w := &audio.Waveform{
		Channels:    2,
		SampleWidth: 2,
		FrameRate:   8000,
		Data:        []byte{1, 2, 9, 9, 3, 4, 9, 9},
	}
	var buf bytes.Buffer
	require.NoError(t, audio.EncodeWAV(&buf, w))
	return buf.Bytes()
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)

	a, err := f.p.Analyze(context.Background(), bytes.NewReader(stereoCall(t)), "call.wav", "Alice")
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, "Alice", a.AgentName)
	assert.Equal(t, "call.wav", a.AudioFilename)
	assert.Equal(t, "thank you for calling", a.Transcript)
	require.Len(t, a.Evaluation, 1)
	assert.Equal(t, map[string]float64{"Joy": 60, "Anger": 10}, a.EmotionScores.Map())
	require.Len(t, a.EmotionSummary.TopPositive, 1)
	assert.Equal(t, "Joy", a.EmotionSummary.TopPositive[0].Name)

	// the transcriber only hears the agent channel
	agent, err := audio.DecodeWAV(bytes.NewReader(f.asr.seen))
	require.NoError(t, err)
	assert.Equal(t, 1, agent.Channels)
	assert.Equal(t, []byte{1, 2, 3, 4}, agent.Data)

	assert.Equal(t, []*CallAnalysis{a}, f.saver.saved)
	assert.Empty(t, f.leftovers(t))
}

func TestAnalyzeTranscriptionFailure(t *testing.T) {
	f := newFixture(t)
	f.asr.err = &clients.TranscriptionError{StatusCode: 500, Status: "500 Internal Server Error", Body: "boom"}

	a, err := f.p.Analyze(context.Background(), bytes.NewReader(stereoCall(t)), "call.wav", "Alice")
	assert.Nil(t, a)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageTranscribe, se.Stage)
	var te *clients.TranscriptionError
	assert.True(t, errors.As(err, &te))

	assert.Equal(t, 1, f.asr.calls)
	assert.Zero(t, f.eval.calls)
	assert.Zero(t, f.emo.calls)
	assert.Empty(t, f.saver.saved)
	assert.Empty(t, f.leftovers(t))
}

func TestAnalyzeRejectsMono(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	require.NoError(t, audio.EncodeWAV(&buf, &audio.Waveform{Channels: 1, SampleWidth: 2, FrameRate: 8000, Data: []byte{1, 2}}))

	_, err := f.p.Analyze(context.Background(), &buf, "mono.wav", "Alice")
	var fe *audio.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, err.Error(), StageSplit)
	assert.Zero(t, f.asr.calls)
	assert.Empty(t, f.leftovers(t))
}

func TestAnalyzeStageFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		setup   func(f *fixture)
		stage   string
		emotion int
	}{
		{"evaluate", func(f *fixture) { f.eval.err = &evaluation.ParseError{Reason: "no list"} }, StageEvaluate, 0},
		{"emotion", func(f *fixture) { f.emo.err = &clients.JobFailedError{JobID: "j"} }, StageEmotion, 1},
		{"extract", func(f *fixture) { f.emo.raw = `{"unexpected": true}` }, StageExtract, 1},
		{"save", func(f *fixture) { f.saver.err = boom }, StageSave, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			a, err := f.p.Analyze(context.Background(), bytes.NewReader(stereoCall(t)), "call.wav", "Bob")
			assert.Nil(t, a)
			var se *StageError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, tt.emotion, f.emo.calls)
			assert.Empty(t, f.saver.saved)
			assert.Empty(t, f.leftovers(t))
		})
	}
}

func TestAnalyzeExtractErrorKind(t *testing.T) {
	f := newFixture(t)
	f.emo.raw = `{"unexpected": true}`

	_, err := f.p.Analyze(context.Background(), bytes.NewReader(stereoCall(t)), "call.wav", "Bob")
	var me *emotion.MalformedDataError
	assert.True(t, errors.As(err, &me))
}

func TestAnalyzeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.p.Analyze(ctx, bytes.NewReader(stereoCall(t)), "call.wav", "Bob")
	assert.ErrorIs(t, err, context.Canceled)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageUpload, se.Stage)
	assert.Zero(t, f.asr.calls)
	assert.Empty(t, f.leftovers(t))
}

func TestAnalyzeExports(t *testing.T) {
	out := filepath.Join(t.TempDir(), "outputs")
	f := newFixture(t, WithOutputs(out))

	a, err := f.p.Analyze(context.Background(), bytes.NewReader(stereoCall(t)), "call.wav", "Carol")
	require.NoError(t, err)

	back, err := LoadExport(filepath.Join(out, a.ID+".json"))
	require.NoError(t, err)
	assert.Equal(t, a.ID, back.ID)
	assert.Equal(t, a.AgentName, back.AgentName)
	assert.Equal(t, a.EmotionScores, back.EmotionScores)
	assert.True(t, a.CreatedAt.Equal(back.CreatedAt))
}

func TestAnalyzeExportFailureIsNotFatal(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "outputs")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	f := newFixture(t, WithOutputs(blocked))

	a, err := f.p.Analyze(context.Background(), bytes.NewReader(stereoCall(t)), "call.wav", "Carol")
	require.NoError(t, err)
	assert.Len(t, f.saver.saved, 1)

	var warned *logrus.Entry
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = e
		}
	}
	require.NotNil(t, warned)
	assert.Equal(t, "analysis export failed", warned.Message)
	var se *StageError
	require.True(t, errors.As(warned.Data[logrus.ErrorKey].(error), &se))
	assert.Equal(t, StageExport, se.Stage)
	assert.Equal(t, a.ID, warned.Data["analysis"])
}

func TestAnalyzeFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "recording.wav")
	require.NoError(t, os.WriteFile(path, stereoCall(t), 0o644))

	a, err := f.p.AnalyzeFile(context.Background(), path, "Dan")
	require.NoError(t, err)
	assert.Equal(t, "recording.wav", a.AudioFilename)

	_, err = f.p.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "Dan")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveFilesLogsFailure(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.dir, "busy")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), nil, 0o644))

	f.p.removeFiles(f.p.log.WithField("test", true), dir, filepath.Join(f.dir, "never-created.wav"))

	require.Len(t, f.hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
}
