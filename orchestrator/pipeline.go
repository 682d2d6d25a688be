package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/taar/callqa-pipeline/audio"
	"github.com/taar/callqa-pipeline/clients"
	cfg "github.com/taar/callqa-pipeline/config"
	"github.com/taar/callqa-pipeline/emotion"
	"github.com/taar/callqa-pipeline/evaluation"
	"github.com/taar/callqa-pipeline/metrics"
)

type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, transcript string) (evaluation.Record, error)
}

// EmotionAnalyzer runs a full emotion job for one file and returns the raw
// prediction payload.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, wavPath string) (json.RawMessage, error)
}

// Saver persists finished analyses.
type Saver interface {
	Save(ctx context.Context, a *CallAnalysis) error
}

type Pipeline struct {
	asr   Transcriber
	eval  Evaluator
	emo   EmotionAnalyzer
	saver Saver

	tempDir string
	outputs string
	log     *logrus.Logger
	now     func() time.Time
}

type Option func(*Pipeline)

// WithSaver stores every successful analysis before it is returned.
func WithSaver(s Saver) Option { return func(p *Pipeline) { p.saver = s } }

// WithTempDir sets where uploads and channel files are staged.
func WithTempDir(dir string) Option { return func(p *Pipeline) { p.tempDir = dir } }

// WithOutputs enables JSON export of each analysis into dir.
func WithOutputs(dir string) Option { return func(p *Pipeline) { p.outputs = dir } }

func WithLogger(l *logrus.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPipeline(asr Transcriber, eval Evaluator, emo EmotionAnalyzer, opts ...Option) *Pipeline {
	p := &Pipeline{
		asr:  asr,
		eval: eval,
		emo:  emo,
		log:  logrus.StandardLogger(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	if p.tempDir == "" {
		p.tempDir = os.TempDir()
	}
	return p
}

// New wires the HTTP-backed collaborators described by c.
func New(c *cfg.Root, log *logrus.Logger, opts ...Option) (*Pipeline, error) {
	h := clients.NewHTTP(cfg.DurSeconds(c.Services.Timeout), log)

	tr := c.Services.Transcription
	asr := h.Whisper(tr.URL, tr.APIKey, tr.Model)

	ev := c.Services.Evaluation
	completer, err := clients.NewOpenAICompleter(ev.APIKey, ev.Model,
		clients.WithBaseURL(ev.URL),
		clients.WithTimeout(cfg.DurSeconds(c.Services.Timeout)),
	)
	if err != nil {
		return nil, err
	}

	em := c.Services.Emotion
	hume := h.Hume(em.URL, em.APIKey,
		clients.WithPollInterval(cfg.DurSeconds(em.PollInterval)),
		clients.WithMaxPolls(em.MaxPolls),
	)

	base := []Option{WithTempDir(c.Audio.TempDir), WithOutputs(c.Paths.Outputs), WithLogger(log)}
	return NewPipeline(asr, evaluation.NewEvaluator(completer), hume, append(base, opts...)...), nil
}

// stage runs fn as the named stage, timing it and wrapping its error.
func (p *Pipeline) stage(ctx context.Context, entry *logrus.Entry, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	entry.WithField("stage", name).Debug("stage start")
	start := time.Now()
	err := fn()
	metrics.ObserveStage(name, start, err)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

// Analyze runs one call through split, transcription, evaluation and
// emotion analysis. The upload and the agent channel are staged in the temp
// dir and removed before returning, whatever the outcome. On error no
// analysis is returned or saved.
func (p *Pipeline) Analyze(ctx context.Context, src io.Reader, filename, agent string) (_ *CallAnalysis, err error) {
	metrics.TrackActive(1)
	defer metrics.TrackActive(-1)
	defer func() { metrics.RecordAnalysis(err) }()

	id := uuid.NewString()
	entry := p.log.WithFields(logrus.Fields{"agent": agent, "analysis": id})
	entry.WithField("file", filename).Info("analysis started")

	uploadPath := p.tempPath("upload", id)
	agentPath := p.tempPath("agent", id)
	defer p.removeFiles(entry, uploadPath, agentPath)

	if err := p.stage(ctx, entry, StageUpload, func() error {
		return writeUpload(uploadPath, src)
	}); err != nil {
		return nil, err
	}

	if err := p.stage(ctx, entry, StageSplit, func() error {
		w, err := audio.ReadWAV(uploadPath)
		if err != nil {
			return err
		}
		agentCh, _, err := audio.SplitStereo(w)
		if err != nil {
			return err
		}
		return audio.WriteWAV(agentPath, agentCh)
	}); err != nil {
		return nil, err
	}

	var transcript string
	if err := p.stage(ctx, entry, StageTranscribe, func() (err error) {
		transcript, err = p.asr.Transcribe(ctx, agentPath)
		return err
	}); err != nil {
		return nil, err
	}

	var record evaluation.Record
	if err := p.stage(ctx, entry, StageEvaluate, func() (err error) {
		record, err = p.eval.Evaluate(ctx, transcript)
		return err
	}); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := p.stage(ctx, entry, StageEmotion, func() (err error) {
		raw, err = p.emo.Analyze(ctx, agentPath)
		return err
	}); err != nil {
		return nil, err
	}

	var scores emotion.Scores
	if err := p.stage(ctx, entry, StageExtract, func() (err error) {
		scores, err = emotion.ExtractScores(raw)
		return err
	}); err != nil {
		return nil, err
	}

	var summary emotion.Summary
	if err := p.stage(ctx, entry, StageSummarize, func() error {
		summary = emotion.Summarize(scores)
		return nil
	}); err != nil {
		return nil, err
	}

	a := &CallAnalysis{
		ID:             id,
		CreatedAt:      p.now(),
		AgentName:      agent,
		AudioFilename:  filename,
		Transcript:     transcript,
		Evaluation:     record,
		EmotionScores:  scores,
		EmotionSummary: summary,
	}

	if p.saver != nil {
		if err := p.stage(ctx, entry, StageSave, func() error {
			return p.saver.Save(ctx, a)
		}); err != nil {
			return nil, err
		}
	}

	if p.outputs != "" {
		var path string
		err := p.stage(ctx, entry, StageExport, func() (err error) {
			path, err = Export(p.outputs, a)
			return err
		})
		if err != nil {
			entry.WithError(err).Warn("analysis export failed")
		} else {
			entry.WithField("path", path).Debug("analysis exported")
		}
	}

	entry.WithFields(logrus.Fields{
		"kpis":     len(record),
		"emotions": len(scores),
	}).Info("analysis completed")
	return a, nil
}

// AnalyzeFile opens path and analyzes it under its base name.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path, agent string) (*CallAnalysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return p.Analyze(ctx, f, baseName(path), agent)
}
