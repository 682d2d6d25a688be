package orchestrator

import (
	"fmt"
	"time"

	"github.com/taar/callqa-pipeline/emotion"
	"github.com/taar/callqa-pipeline/evaluation"
)

// Stage names, in execution order.
const (
	StageUpload     = "upload"
	StageSplit      = "split"
	StageTranscribe = "transcribe"
	StageEvaluate   = "evaluate"
	StageEmotion    = "emotion"
	StageExtract    = "extract"
	StageSummarize  = "summarize"
	StageSave       = "save"
	StageExport     = "export"
)

// CallAnalysis is the result of one analyzed call. It is built once and not
// modified afterwards.
type CallAnalysis struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	AgentName      string            `json:"agent_name"`
	AudioFilename  string            `json:"audio_filename,omitempty"`
	Transcript     string            `json:"transcript"`
	Evaluation     evaluation.Record `json:"evaluation"`
	EmotionScores  emotion.Scores    `json:"emotion_scores"`
	EmotionSummary emotion.Summary   `json:"emotion_summary"`
}

// StageError reports which stage aborted an analysis.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
