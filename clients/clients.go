package clients

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

type HTTP struct {
	c   *http.Client
	log *logrus.Logger
}

func NewHTTP(timeout time.Duration, log *logrus.Logger) *HTTP {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTP{c: &http.Client{Timeout: timeout}, log: log}
}

// formFile is one part of a multipart upload.
type formFile struct {
	field       string
	path        string
	contentType string
}

// multipartBody builds a multipart form with the given files and plain
// fields. Parts with a content type are written with an explicit header.
func multipartBody(files []formFile, fields map[string]string, typed map[string][2]string) (*bytes.Buffer, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+filepath.Base(f.path)+`"`)
		ct := f.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		fw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		fd, err := os.Open(f.path)
		if err != nil {
			return nil, "", err
		}
		_, err = io.Copy(fw, fd)
		fd.Close()
		if err != nil {
			return nil, "", err
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	// typed fields: name -> {content type, value}
	for k, tv := range typed {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+k+`"`)
		h.Set("Content-Type", tv[0])
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.WriteString(pw, tv[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &b, w.FormDataContentType(), nil
}
