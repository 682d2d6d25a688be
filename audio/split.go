package audio

import "fmt"

// FormatError reports an audio layout the pipeline cannot handle.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio format: %s: %v", e.Reason, e.Err)
	}
	return "audio format: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

// SplitStereo de-interleaves a two-channel waveform into two mono waveforms.
// The first sample of every frame goes to a, the second to b. Samples are
// copied byte for byte, so bit depth and byte order are preserved and the
// outputs never alias w.Data.
//
// Trailing bytes that do not form a whole frame are dropped from both
// outputs.
func SplitStereo(w *Waveform) (a, b *Waveform, err error) {
	if w.Channels != 2 {
		return nil, nil, &FormatError{Reason: fmt.Sprintf("not stereo (channels=%d)", w.Channels)}
	}
	if w.SampleWidth <= 0 {
		return nil, nil, &FormatError{Reason: fmt.Sprintf("invalid sample width %d", w.SampleWidth)}
	}

	width := w.SampleWidth
	frameSize := 2 * width
	frames := len(w.Data) / frameSize

	left := make([]byte, frames*width)
	right := make([]byte, frames*width)
	for i := 0; i < frames; i++ {
		src := w.Data[i*frameSize : (i+1)*frameSize]
		copy(left[i*width:(i+1)*width], src[:width])
		copy(right[i*width:(i+1)*width], src[width:])
	}

	a = &Waveform{Channels: 1, SampleWidth: width, FrameRate: w.FrameRate, Data: left}
	b = &Waveform{Channels: 1, SampleWidth: width, FrameRate: w.FrameRate, Data: right}
	return a, b, nil
}

// Interleave is the inverse of SplitStereo for equal-length mono inputs.
func Interleave(a, b *Waveform) (*Waveform, error) {
	if a.Channels != 1 || b.Channels != 1 {
		return nil, &FormatError{Reason: "interleave needs two mono inputs"}
	}
	if a.SampleWidth != b.SampleWidth || a.FrameRate != b.FrameRate {
		return nil, &FormatError{Reason: "mismatched sample width or frame rate"}
	}
	if len(a.Data) != len(b.Data) {
		return nil, &FormatError{Reason: fmt.Sprintf("mismatched lengths %d vs %d", len(a.Data), len(b.Data))}
	}

	width := a.SampleWidth
	frames := len(a.Data) / width
	out := make([]byte, 0, 2*len(a.Data))
	for i := 0; i < frames; i++ {
		out = append(out, a.Data[i*width:(i+1)*width]...)
		out = append(out, b.Data[i*width:(i+1)*width]...)
	}
	return &Waveform{Channels: 2, SampleWidth: width, FrameRate: a.FrameRate, Data: out}, nil
}

// SplitFile reads a stereo WAV from src and writes the two channels to
// agentPath and customerPath.
func SplitFile(src, agentPath, customerPath string) error {
	w, err := ReadWAV(src)
	if err != nil {
		return err
	}
	agent, customer, err := SplitStereo(w)
	if err != nil {
		return err
	}
	if err := WriteWAV(agentPath, agent); err != nil {
		return fmt.Errorf("write agent channel: %w", err)
	}
	if err := WriteWAV(customerPath, customer); err != nil {
		return fmt.Errorf("write customer channel: %w", err)
	}
	return nil
}
