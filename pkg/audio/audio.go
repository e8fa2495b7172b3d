// Package audio provides the duplex conversation stream used by an assistant
// turn: capture from a Source is chunked for upload and assistant speech is
// written to a Sink with volume applied.
package audio

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

const (
	// DefaultSampleRate is the sample rate used for both directions.
	DefaultSampleRate = 16000
	// DefaultSampleWidth is the number of bytes per sample (LINEAR16).
	DefaultSampleWidth = 2
	// DefaultChunkSize is the number of bytes per uploaded chunk (100ms).
	DefaultChunkSize = 3200
	// DefaultVolume is the initial playback volume percentage.
	DefaultVolume = 50
)

// Format describes mono linear PCM audio.
type Format struct {
	SampleRate  int
	SampleWidth int
}

// DefaultFormat is 16kHz 16-bit mono.
var DefaultFormat = Format{SampleRate: DefaultSampleRate, SampleWidth: DefaultSampleWidth}

// BytesInDuration returns the number of bytes in the given duration.
func (f Format) BytesInDuration(d time.Duration) int {
	return int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.SampleWidth
}

// Duration returns the duration of the given number of bytes.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate == 0 || f.SampleWidth == 0 {
		return 0
	}
	return time.Duration(n/f.SampleWidth) * time.Second / time.Duration(f.SampleRate)
}

// Source captures audio.
type Source interface {
	io.Reader
	Start() error
	Stop() error
}

// Sink plays audio. Flush blocks until written audio has been played.
type Sink interface {
	io.Writer
	Start() error
	Stop() error
	Flush() error
}

// Aborter is implemented by sinks that can stop without playing out
// buffered audio.
type Aborter interface {
	Abort() error
}

// ScaleVolume scales little-endian 16-bit samples in place. The factor grows
// exponentially with the percentage so that 100 leaves samples unchanged and
// 0 mutes them.
func ScaleVolume(buf []byte, percentage int) {
	percentage = clampVolume(percentage)
	if percentage == 100 {
		return
	}
	scale := math.Pow(2, float64(percentage)/100) - 1
	for i := 0; i+1 < len(buf); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(buf[i:])))
		v := int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, s*scale)))
		binary.LittleEndian.PutUint16(buf[i:], uint16(v))
	}
}

// alignBuffer pads buf with zeros to a multiple of the sample width.
func alignBuffer(buf []byte, width int) []byte {
	if width <= 1 {
		return buf
	}
	if rem := len(buf) % width; rem != 0 {
		buf = append(buf, make([]byte, width-rem)...)
	}
	return buf
}

func clampVolume(v int) int {
	return min(max(v, 0), 100)
}
