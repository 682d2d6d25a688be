// Package audio holds the PCM waveform model, a minimal RIFF/WAVE codec and
// the stereo channel splitter used at the start of every call analysis.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// Waveform is an interleaved PCM buffer. Each frame is Channels*SampleWidth
// bytes; samples keep the byte order they were read with.
type Waveform struct {
	Channels    int
	SampleWidth int // bytes per sample
	FrameRate   int
	Data        []byte
}

// FrameSize is the number of bytes per interleaved frame.
func (w *Waveform) FrameSize() int { return w.Channels * w.SampleWidth }

// FrameCount is the number of complete frames in Data.
func (w *Waveform) FrameCount() int {
	if w.FrameSize() <= 0 {
		return 0
	}
	return len(w.Data) / w.FrameSize()
}

// DecodeWAV reads a PCM WAV stream. A data chunk shorter than its declared
// size (truncated upload) is accepted as-is.
func DecodeWAV(r io.Reader) (*Waveform, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, &FormatError{Reason: "short RIFF header", Err: err}
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, &FormatError{Reason: "missing RIFF/WAVE header"}
	}

	var (
		wf       Waveform
		fmtFound bool
	)
	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if !fmtFound {
				return nil, &FormatError{Reason: "missing fmt chunk", Err: err}
			}
			return nil, &FormatError{Reason: "missing data chunk", Err: err}
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, &FormatError{Reason: fmt.Sprintf("fmt chunk too small (%d bytes)", chunkSize)}
			}
			body := make([]byte, 16)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, &FormatError{Reason: "short fmt chunk", Err: err}
			}
			if _, err := io.CopyN(io.Discard, r, chunkSize-16); err != nil {
				return nil, &FormatError{Reason: "short fmt chunk", Err: err}
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			if audioFormat != formatPCM && audioFormat != formatExtensible {
				return nil, &FormatError{Reason: fmt.Sprintf("unsupported audio format %d", audioFormat)}
			}
			wf.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			wf.FrameRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := int(binary.LittleEndian.Uint16(body[14:16]))
			if bits <= 0 || bits%8 != 0 {
				return nil, &FormatError{Reason: fmt.Sprintf("unsupported bits per sample %d", bits)}
			}
			wf.SampleWidth = bits / 8
			fmtFound = true
			if err := skipPad(r, chunkSize); err != nil {
				return nil, &FormatError{Reason: "short fmt chunk", Err: err}
			}
		case "data":
			if !fmtFound {
				return nil, &FormatError{Reason: "data chunk before fmt chunk"}
			}
			var buf bytes.Buffer
			if _, err := io.CopyN(&buf, r, chunkSize); err != nil && !errors.Is(err, io.EOF) {
				return nil, &FormatError{Reason: "read data chunk", Err: err}
			}
			wf.Data = buf.Bytes()
			return &wf, nil
		default:
			if _, err := io.CopyN(io.Discard, r, chunkSize); err != nil {
				return nil, &FormatError{Reason: fmt.Sprintf("short %q chunk", chunkID), Err: err}
			}
			if err := skipPad(r, chunkSize); err != nil {
				return nil, &FormatError{Reason: fmt.Sprintf("short %q chunk", chunkID), Err: err}
			}
		}
	}
}

// skipPad consumes the RIFF pad byte that follows odd-sized chunks.
func skipPad(r io.Reader, size int64) error {
	if size%2 == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, 1)
	return err
}

// EncodeWAV writes w as a canonical 44-byte-header PCM WAV.
func EncodeWAV(dst io.Writer, w *Waveform) error {
	if w.Channels <= 0 || w.SampleWidth <= 0 || w.FrameRate <= 0 {
		return &FormatError{Reason: fmt.Sprintf("invalid format channels=%d width=%d rate=%d", w.Channels, w.SampleWidth, w.FrameRate)}
	}
	dataLen := uint32(len(w.Data))
	blockAlign := uint16(w.FrameSize())
	byteRate := uint32(w.FrameRate) * uint32(blockAlign)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataLen)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.FrameRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], uint16(w.SampleWidth*8))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataLen)

	if _, err := dst.Write(header); err != nil {
		return err
	}
	if _, err := dst.Write(w.Data); err != nil {
		return err
	}
	if dataLen%2 == 1 {
		_, err := dst.Write([]byte{0})
		return err
	}
	return nil
}

// ReadWAV decodes the WAV file at path.
func ReadWAV(path string) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("invalid WAV file %s: %w", path, err)
	}
	return w, nil
}

// WriteWAV encodes w into a new file at path.
func WriteWAV(path string, w *Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, w); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
