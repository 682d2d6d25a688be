package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TranscriptionError is a non-success reply from the speech-to-text service.
type TranscriptionError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %s - %s", e.Status, e.Body)
}

type TranscribeResp struct {
	Text string `json:"text"`
}

// Whisper transcribes audio files through an OpenAI-compatible
// /audio/transcriptions endpoint.
type Whisper struct {
	h      *HTTP
	url    string
	apiKey string
	model  string
}

func (h *HTTP) Whisper(baseURL, apiKey, model string) *Whisper {
	if model == "" {
		model = "whisper-1"
	}
	return &Whisper{h: h, url: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model}
}

// Transcribe uploads the WAV at wavPath and returns the plain-text
// transcript. It does not retry.
func (w *Whisper) Transcribe(ctx context.Context, wavPath string) (string, error) {
	body, contentType, err := multipartBody(
		[]formFile{{field: "file", path: wavPath, contentType: "audio/wav"}},
		map[string]string{"model": w.model},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("asr build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/audio/transcriptions", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.h.c.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}

	var out TranscribeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("asr decode: %w", err)
	}
	w.h.log.WithField("chars", len(out.Text)).Debug("transcription received")
	return out.Text, nil
}
