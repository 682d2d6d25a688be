package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
)

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Export writes a as <dir>/<id>.json and returns the file path.
func Export(dir string, a *CallAnalysis) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, a.ID+".json")
	if err := writeJSON(path, a); err != nil {
		return "", err
	}
	return path, nil
}

// LoadExport reads an analysis previously written by Export.
func LoadExport(path string) (*CallAnalysis, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a CallAnalysis
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
