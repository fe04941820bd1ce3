// Package audiocapture implements the node's PCM capture path: reading
// 32-bit stereo I2S frames from a PortAudio input stream, picking the
// active channel, downmixing to mono 16-bit, and applying the soft-clip
// curve per spec.md §4.A. No DC-offset correction is applied to the
// samples. Grounded on
// github.com/gordonklaus/portaudio (the pack's most independently
// confirmed audio I/O library) and github.com/smallnest/ringbuffer for
// the callback-to-reader handoff, both teacher dependencies.
package audiocapture

import (
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/smallnest/ringbuffer"

	fgerrors "github.com/foresthq/guardian/internal/errors"
)

// SampleRate is the node's fixed PCM output rate.
const SampleRate = 16000

const (
	softClipKnee    = 20000
	softClipDivisor = 8
	hardClampLimit  = 24000
)

// ErrUnavailable wraps a driver-level capture failure; the scheduler
// retries on this.
var ErrUnavailable = fgerrors.Newf("audio driver unavailable").
	Component("audiocapture").Category(fgerrors.CategoryAudio).Build()

// softClip implements spec.md §4.A's clip curve: a soft knee above
// ±20000 that compresses the remainder by 1/8th, then a hard clamp at
// ±24000.
func softClip(x int32) int16 {
	sign := int32(1)
	abs := x
	if x < 0 {
		sign = -1
		abs = -x
	}
	if abs > softClipKnee {
		abs = softClipKnee + (abs-softClipKnee)/softClipDivisor
	}
	if abs > hardClampLimit {
		abs = hardClampLimit
	}
	return int16(sign * abs)
}

// downmix converts one 32-bit I2S sample on the active channel to a
// clipped 16-bit sample via the arithmetic right-shift the spec names.
func downmix(raw int32) int16 {
	return softClip(raw >> 15)
}

// Source is the PortAudio-backed AudioSource implementation consumed
// by internal/scheduler.
type Source struct {
	stream        *portaudio.Stream
	ring          *ringbuffer.RingBuffer
	activeChannel int // 0 or 1, detected once at startup
	mu            sync.Mutex
	detected      bool
	peaks         [2]int32
}

// NewSource opens the default input device as a 2-channel, 32-bit
// stereo stream at SampleRate and begins buffering frames into an
// internal ring buffer sized for 2 seconds of mono 16-bit audio.
func NewSource() (*Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fgerrors.New(err).Component("audiocapture").Category(fgerrors.CategoryAudio).Build()
	}

	s := &Source{
		ring: ringbuffer.New(SampleRate * 2 * 2), // 2s of int16 samples, byte-sized
	}

	const framesPerBuffer = 1024
	stereoBuf := make([]int32, framesPerBuffer*2)
	stream, err := portaudio.OpenDefaultStream(2, 0, float64(SampleRate), framesPerBuffer, stereoBuf)
	if err != nil {
		portaudio.Terminate()
		return nil, fgerrors.New(err).Component("audiocapture").Category(fgerrors.CategoryAudio).Build()
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fgerrors.New(err).Component("audiocapture").Category(fgerrors.CategoryAudio).Build()
	}

	go s.pump(stereoBuf)
	return s, nil
}

// pump continuously reads stereo frames from the PortAudio stream,
// detects the active channel over the first chunk, downmixes, and
// feeds mono int16 bytes into the ring buffer.
func (s *Source) pump(stereoBuf []int32) {
	for {
		if err := s.stream.Read(); err != nil {
			return
		}

		s.mu.Lock()
		if !s.detected {
			for i := 0; i < len(stereoBuf); i += 2 {
				if abs32(stereoBuf[i]) > s.peaks[0] {
					s.peaks[0] = abs32(stereoBuf[i])
				}
				if abs32(stereoBuf[i+1]) > s.peaks[1] {
					s.peaks[1] = abs32(stereoBuf[i+1])
				}
			}
			if s.peaks[0] > 0 || s.peaks[1] > 0 {
				if s.peaks[1] > s.peaks[0] {
					s.activeChannel = 1
				}
				s.detected = true
			}
		}
		channel := s.activeChannel
		s.mu.Unlock()

		mono := make([]byte, 0, len(stereoBuf)/2*2)
		for i := channel; i < len(stereoBuf); i += 2 {
			sample := downmix(stereoBuf[i])
			mono = append(mono, byte(sample), byte(sample>>8))
		}
		_, _ = s.ring.Write(mono)
	}
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

// Read implements scheduler.AudioSource: it blocks up to 100ms per
// sub-read attempting to fill buf, zero-padding on underfill, and
// returns ErrUnavailable if the underlying stream has failed.
func (s *Source) Read(buf []int16) error {
	if s.stream == nil {
		return ErrUnavailable
	}

	need := len(buf) * 2
	raw := make([]byte, need)
	filled := 0
	deadline := time.Now().Add(100 * time.Millisecond)

	for filled < need && time.Now().Before(deadline) {
		n, err := s.ring.Read(raw[filled:])
		if err != nil && n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		filled += n
	}

	for i := range buf {
		off := i * 2
		if off+1 < filled {
			buf[i] = int16(uint16(raw[off]) | uint16(raw[off+1])<<8)
		} else {
			buf[i] = 0 // zero-pad on underfill per spec.md §4.A
		}
	}
	return nil
}

// Close stops the stream and releases PortAudio.
func (s *Source) Close() error {
	if s.stream == nil {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
