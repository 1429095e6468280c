// Package assembler implements the Frame Assembler: a per-session,
// stateful pipeline that turns an arbitrary-sized byte stream of interleaved
// PCM S16LE samples into a sequence of fixed-duration mono float32 frames at
// the ASR's target sample rate.
//
// An Assembler is owned exclusively by one Session's pipeline goroutine; it
// is not safe for concurrent use.
package assembler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/riftcast/streamscribe/internal/types"
)

// Assembler converts pushed PCM bytes into fixed-length Frames. Its
// resampler instance is created once and never recreated mid-session, so
// the polyphase filter's internal delay line persists across push calls as
// required by the no-distortion-at-boundaries invariant.
type Assembler struct {
	profile types.AudioProfile

	// oddByte carries a single leftover PCM byte across push calls when the
	// input arrives in chunks that aren't sample-aligned.
	oddByte  []byte
	hasOdd   bool

	resampler     resampling.Resampler
	needsResample bool

	// pending buffers resampled mono samples until a full frame is available.
	pending []float32

	seq uint64
}

// New creates an Assembler bound to profile. Resampling is skipped (bypass
// mode) when the input rate already matches the target rate, but framing
// still applies.
func New(profile types.AudioProfile) (*Assembler, error) {
	a := &Assembler{
		profile: profile,
		pending: make([]float32, 0, profile.TargetFrameSamples()),
	}

	if profile.InputSampleRate != profile.TargetSampleRate {
		cfg := &resampling.Config{
			InputRate:  float64(profile.InputSampleRate),
			OutputRate: float64(profile.TargetSampleRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		}
		r, err := resampling.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("assembler: create resampler: %w", err)
		}
		a.resampler = r
		a.needsResample = true
	}

	return a, nil
}

// Push appends raw PCM S16LE bytes and returns zero or more complete Frames
// in emission order. An odd combined byte count (including any carried
// remainder) is not an error: the trailing byte is carried into the next
// call. It returns types.ErrEmptyChunk for a zero-length input with nothing
// carried over.
func (a *Assembler) Push(raw []byte) ([]types.Frame, error) {
	if len(raw) == 0 && !a.hasOdd {
		return nil, types.ErrEmptyChunk
	}

	buf := raw
	if a.hasOdd {
		buf = make([]byte, 0, len(a.oddByte)+len(raw))
		buf = append(buf, a.oddByte...)
		buf = append(buf, raw...)
		a.hasOdd = false
		a.oddByte = nil
	}

	if len(buf)%2 != 0 {
		a.oddByte = []byte{buf[len(buf)-1]}
		a.hasOdd = true
		buf = buf[:len(buf)-1]
	}
	if len(buf) == 0 {
		return nil, nil
	}

	mono := downmixToMono(unpackS16LE(buf), a.profile.InputChannels)

	resampled, err := a.resample(mono)
	if err != nil {
		return nil, fmt.Errorf("assembler: resample: %w", err)
	}

	return a.frame(resampled), nil
}

// Flush drains any remaining resampler history and the in-flight partial
// frame, zero-padding the final frame to full length. Call once at session
// finish; the Assembler must not be reused afterward.
func (a *Assembler) Flush() ([]types.Frame, error) {
	var frames []types.Frame

	if a.needsResample {
		// Feed a short silence tail to flush the polyphase kernel's delay
		// line, mirroring the tail-padding approach used by streaming
		// resampler wrappers in the example pack.
		tailLen := a.profile.TargetFrameSamples()
		if tailLen < 1 {
			tailLen = 1
		}
		tail := make([]float64, tailLen)
		out, err := a.resampler.Process(tail)
		if err != nil {
			return nil, fmt.Errorf("assembler: flush resampler: %w", err)
		}
		frames = append(frames, a.frame(packFloat32(out))...)
	}

	if len(a.pending) > 0 {
		padded := make([]float32, a.profile.TargetFrameSamples())
		copy(padded, a.pending)
		frames = append(frames, a.newFrame(padded))
		a.pending = a.pending[:0]
	}

	return frames, nil
}

func (a *Assembler) resample(mono []float64) ([]float32, error) {
	if !a.needsResample {
		return packFloat32(mono), nil
	}
	out, err := a.resampler.Process(mono)
	if err != nil {
		return nil, err
	}
	return packFloat32(out), nil
}

// frame buffers samples and emits every complete target-length frame found.
func (a *Assembler) frame(samples []float32) []types.Frame {
	frameLen := a.profile.TargetFrameSamples()
	var out []types.Frame

	a.pending = append(a.pending, samples...)
	for len(a.pending) >= frameLen {
		f := make([]float32, frameLen)
		copy(f, a.pending[:frameLen])
		a.pending = a.pending[frameLen:]
		out = append(out, a.newFrame(f))
	}
	return out
}

func (a *Assembler) newFrame(samples []float32) types.Frame {
	f := types.Frame{
		Samples:    samples,
		SampleRate: a.profile.TargetSampleRate,
		Seq:        a.seq,
	}
	a.seq++
	return f
}
