package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// inDir runs the test from an empty directory so no stray config.yaml or
// .env is picked up.
func inDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inDir(t)
	t.Setenv("CONFIG_ENV", "")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", c.Pipeline.LogLvl)
	assert.Equal(t, "whisper-1", c.Services.Transcription.Model)
	assert.Equal(t, "gpt-4o-mini", c.Services.Evaluation.Model)
	assert.Equal(t, "https://api.hume.ai/v0/batch/jobs", c.Services.Emotion.URL)
	assert.Equal(t, 10, c.Services.Emotion.PollInterval)
	assert.Equal(t, 360, c.Services.Emotion.MaxPolls)
	assert.Equal(t, 60, c.Services.Timeout)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, "callqa.db", c.Storage.DSN)
	assert.Equal(t, ":5000", c.Server.Addr)
	assert.Equal(t, 2, c.Batch.Workers)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inDir(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  log_level: debug
services:
  emotion:
    api_key: from-file
    poll_interval: 2
storage:
  driver: postgres
  dsn: postgres://localhost/callqa
`), 0o644))
	t.Setenv("CALLQA_STORAGE_DSN", "postgres://env/callqa")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Pipeline.LogLvl)
	assert.Equal(t, "from-file", c.Services.Emotion.APIKey)
	assert.Equal(t, 2, c.Services.Emotion.PollInterval)
	assert.Equal(t, 360, c.Services.Emotion.MaxPolls)
	assert.Equal(t, "postgres", c.Storage.Driver)
	assert.Equal(t, "postgres://env/callqa", c.Storage.DSN)
}

func TestLoadEnvironmentDirectory(t *testing.T) {
	dir := inDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config", "prod"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "prod", "config.yaml"),
		[]byte("server:\n  addr: \":8080\"\n"), 0o644))
	t.Setenv("CONFIG_ENV", "prod")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Server.Addr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CALLQA_BATCH_WORKERS=7\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CALLQA_BATCH_WORKERS") })

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, c.Batch.Workers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	inDir(t)
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	inDir(t)
	c, err := Load("")
	require.NoError(t, err)

	bad := *c
	bad.Storage.Driver = "mysql"
	assert.Error(t, bad.Validate())

	bad = *c
	bad.Services.Emotion.MaxPolls = 0
	assert.Error(t, bad.Validate())

	bad = *c
	bad.Services.Emotion.PollInterval = -1
	assert.Error(t, bad.Validate())

	bad = *c
	bad.Batch.Workers = 0
	assert.Error(t, bad.Validate())
}

func TestWriteMasksKeys(t *testing.T) {
	inDir(t)
	c, err := Load("")
	require.NoError(t, err)
	c.Services.Evaluation.APIKey = "sk-abcdef123456"
	c.Services.Emotion.APIKey = "abc"

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, c))

	var back Root
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "****3456", back.Services.Evaluation.APIKey)
	assert.Equal(t, "****", back.Services.Emotion.APIKey)
	assert.Equal(t, c.Services.Emotion.URL, back.Services.Emotion.URL)
	assert.Equal(t, c.Services.Emotion.PollInterval, back.Services.Emotion.PollInterval)
	assert.Equal(t, "sk-abcdef123456", c.Services.Evaluation.APIKey)
}

func TestDurSeconds(t *testing.T) {
	assert.Equal(t, 10*time.Second, DurSeconds(10))
}
