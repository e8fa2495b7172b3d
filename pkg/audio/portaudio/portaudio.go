// Package portaudio binds the PortAudio C library to the audio.Source and
// audio.Sink interfaces using blocking read and write.
//
// For go build: requires portaudio installed via pkg-config (apt install portaudio19-dev)
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>
#include <string.h>

static PaError pa_open(void **stream, int input, int channels, double rate, unsigned long frames) {
    PaStreamParameters p;
    p.device = input ? Pa_GetDefaultInputDevice() : Pa_GetDefaultOutputDevice();
    if (p.device == paNoDevice) {
        return paInvalidDevice;
    }
    const PaDeviceInfo *info = Pa_GetDeviceInfo(p.device);
    p.channelCount = channels;
    p.sampleFormat = paInt16;
    p.suggestedLatency = input ? info->defaultLowInputLatency : info->defaultLowOutputLatency;
    p.hostApiSpecificStreamInfo = NULL;
    return Pa_OpenStream((PaStream**)stream, input ? &p : NULL, input ? NULL : &p,
                         rate, frames, paClipOff, NULL, NULL);
}

static PaError pa_start(void *s) { return Pa_StartStream((PaStream*)s); }
static PaError pa_stop(void *s) { return Pa_StopStream((PaStream*)s); }
static PaError pa_abort(void *s) { return Pa_AbortStream((PaStream*)s); }
static PaError pa_close(void *s) { return Pa_CloseStream((PaStream*)s); }
static PaError pa_read(void *s, void *buf, unsigned long frames) { return Pa_ReadStream((PaStream*)s, buf, frames); }
static PaError pa_write(void *s, const void *buf, unsigned long frames) { return Pa_WriteStream((PaStream*)s, buf, frames); }
*/
import "C"

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/haivivi/handset/pkg/audio"
)

var (
	initOnce sync.Once
	initErr  error
)

// ErrClosed is returned by operations on a closed stream.
var ErrClosed = errors.New("portaudio: stream closed")

func paError(code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	return errors.New("portaudio: " + C.GoString(C.Pa_GetErrorText(code)))
}

// Initialize initializes the PortAudio library.
// It is safe to call multiple times.
func Initialize() error {
	initOnce.Do(func() {
		initErr = paError(C.Pa_Initialize())
	})
	return initErr
}

// Terminate terminates the PortAudio library.
func Terminate() error {
	return paError(C.Pa_Terminate())
}

// stream is a mono 16-bit PortAudio stream on the default device. Its C
// buffer holds one block; larger reads and writes are split into blocks.
type stream struct {
	mu      sync.Mutex
	ptr     unsafe.Pointer
	buf     unsafe.Pointer
	frames  int
	started bool
	closed  bool
}

func openStream(input bool, format audio.Format, blockSize int) (*stream, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	frames := blockSize / format.SampleWidth
	var in C.int
	if input {
		in = 1
	}
	var ptr unsafe.Pointer
	if err := paError(C.pa_open(&ptr, in, 1, C.double(format.SampleRate), C.ulong(frames))); err != nil {
		return nil, err
	}
	return &stream{
		ptr:    ptr,
		buf:    C.malloc(C.size_t(frames * 2)),
		frames: frames,
	}, nil
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	if err := paError(C.pa_start(s.ptr)); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return nil
	}
	s.started = false
	return paError(C.pa_stop(s.ptr))
}

func (s *stream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return nil
	}
	s.started = false
	return paError(C.pa_abort(s.ptr))
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.started {
		C.pa_stop(s.ptr)
	}
	err := paError(C.pa_close(s.ptr))
	C.free(s.buf)
	return err
}

// Input captures audio from the default input device.
type Input struct{ s *stream }

var _ audio.Source = (*Input)(nil)

// OpenInput opens the default input device. blockSize is the number of bytes
// captured per device read.
func OpenInput(format audio.Format, blockSize int) (*Input, error) {
	s, err := openStream(true, format, blockSize)
	if err != nil {
		return nil, err
	}
	return &Input{s: s}, nil
}

// Start starts capture.
func (in *Input) Start() error { return in.s.Start() }

// Stop stops capture. A concurrent Read completes first.
func (in *Input) Stop() error { return in.s.Stop() }

// Close releases the device.
func (in *Input) Close() error { return in.s.Close() }

// Read fills p with whole samples, reading at most one device block.
func (in *Input) Read(p []byte) (int, error) {
	s := in.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.started {
		return 0, ErrClosed
	}
	frames := min(len(p)/2, s.frames)
	if frames == 0 {
		return 0, nil
	}
	if err := paError(C.pa_read(s.ptr, s.buf, C.ulong(frames))); err != nil {
		return 0, err
	}
	return copy(p, unsafe.Slice((*byte)(s.buf), frames*2)), nil
}

// Output plays audio on the default output device.
type Output struct {
	s *stream
}

var (
	_ audio.Sink    = (*Output)(nil)
	_ audio.Aborter = (*Output)(nil)
)

// OpenOutput opens the default output device. blockSize is the number of
// bytes written per device write.
func OpenOutput(format audio.Format, blockSize int) (*Output, error) {
	s, err := openStream(false, format, blockSize)
	if err != nil {
		return nil, err
	}
	return &Output{s: s}, nil
}

// Start starts playback.
func (out *Output) Start() error { return out.s.Start() }

// Stop stops playback after buffered audio has played.
func (out *Output) Stop() error { return out.s.Stop() }

// Close releases the device.
func (out *Output) Close() error { return out.s.Close() }

// Abort stops playback, discarding buffered audio.
func (out *Output) Abort() error { return out.s.Abort() }

// Flush is a no-op; Write blocks until the device accepted the data and
// Pa_StopStream drains the device buffer.
func (out *Output) Flush() error { return nil }

// Write plays p, which must hold whole 16-bit samples.
func (out *Output) Write(p []byte) (int, error) {
	s := out.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	for n+1 < len(p) {
		frames := min((len(p)-n)/2, s.frames)
		C.memcpy(s.buf, unsafe.Pointer(&p[n]), C.size_t(frames*2))
		if err := paError(C.pa_write(s.ptr, s.buf, C.ulong(frames))); err != nil {
			return n, err
		}
		n += frames * 2
	}
	return len(p), nil
}
