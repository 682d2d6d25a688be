package orchestrator

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

func (p *Pipeline) tempPath(kind, id string) string {
	return filepath.Join(p.tempDir, kind+"_"+id+".wav")
}

func writeUpload(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// removeFiles deletes staged files. Files that were never created are
// ignored; other failures are logged and otherwise dropped.
func (p *Pipeline) removeFiles(entry *logrus.Entry, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			entry.WithError(err).WithField("path", path).Warn("temp file cleanup failed")
		}
	}
}

func baseName(path string) string {
	return filepath.Base(path)
}
