package audio

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
)

// ConversationStream pairs a capture Source with a playback Sink for one
// assistant conversation. Capture and playback state is guarded so capture
// may be stopped from a goroutine other than the one iterating Chunks.
type ConversationStream struct {
	source    Source
	sink      Sink
	format    Format
	chunkSize int

	mu        sync.Mutex
	recording bool
	playing   bool
	volume    int
}

// StreamOption configures a ConversationStream.
type StreamOption func(*ConversationStream)

// WithFormat sets the audio format. The default is DefaultFormat.
func WithFormat(f Format) StreamOption {
	return func(cs *ConversationStream) { cs.format = f }
}

// WithChunkSize sets the number of bytes yielded per chunk.
func WithChunkSize(n int) StreamOption {
	return func(cs *ConversationStream) { cs.chunkSize = n }
}

// WithVolume sets the initial playback volume percentage.
func WithVolume(v int) StreamOption {
	return func(cs *ConversationStream) { cs.volume = clampVolume(v) }
}

// NewConversationStream creates a stream over source and sink. Both are
// started and stopped by the stream; neither may be used elsewhere while the
// stream is in use.
func NewConversationStream(source Source, sink Sink, opts ...StreamOption) *ConversationStream {
	cs := &ConversationStream{
		source:    source,
		sink:      sink,
		format:    DefaultFormat,
		chunkSize: DefaultChunkSize,
		volume:    DefaultVolume,
	}
	for _, opt := range opts {
		opt(cs)
	}
	return cs
}

// SampleRate returns the sample rate for both directions.
func (cs *ConversationStream) SampleRate() int {
	return cs.format.SampleRate
}

// Format returns the audio format.
func (cs *ConversationStream) Format() Format {
	return cs.format
}

// Volume returns the playback volume percentage.
func (cs *ConversationStream) Volume() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.volume
}

// SetVolume sets the playback volume percentage, clamped to [0, 100].
func (cs *ConversationStream) SetVolume(v int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.volume = clampVolume(v)
}

// Recording reports whether capture is active.
func (cs *ConversationStream) Recording() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.recording
}

// Playing reports whether playback is active.
func (cs *ConversationStream) Playing() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.playing
}

// StartRecording starts capture. It is a no-op if capture is active.
func (cs *ConversationStream) StartRecording() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.recording {
		return nil
	}
	if err := cs.source.Start(); err != nil {
		return fmt.Errorf("audio: start capture: %w", err)
	}
	cs.recording = true
	return nil
}

// StopRecording stops capture. It is a no-op if capture is not active.
func (cs *ConversationStream) StopRecording() error {
	cs.mu.Lock()
	if !cs.recording {
		cs.mu.Unlock()
		return nil
	}
	cs.recording = false
	cs.mu.Unlock()

	// The source may be blocked in Read on the Chunks goroutine; stop it
	// without holding the lock.
	if err := cs.source.Stop(); err != nil {
		return fmt.Errorf("audio: stop capture: %w", err)
	}
	return nil
}

// StartPlayback starts playback. It is a no-op if playback is active.
func (cs *ConversationStream) StartPlayback() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.playing {
		return nil
	}
	if err := cs.sink.Start(); err != nil {
		return fmt.Errorf("audio: start playback: %w", err)
	}
	cs.playing = true
	return nil
}

// StopPlayback drains and stops playback. It is a no-op if playback is not
// active.
func (cs *ConversationStream) StopPlayback() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.playing {
		return nil
	}
	cs.playing = false
	return errors.Join(cs.sink.Flush(), cs.sink.Stop())
}

// Write plays buf at the current volume.
func (cs *ConversationStream) Write(buf []byte) (int, error) {
	n := len(buf)
	out := alignBuffer(append([]byte(nil), buf...), cs.format.SampleWidth)
	ScaleVolume(out, cs.Volume())
	if _, err := cs.sink.Write(out); err != nil {
		return 0, err
	}
	return n, nil
}

// Chunks yields captured audio in fixed-size chunks while recording is
// active. The sequence ends when capture stops or the source is exhausted.
func (cs *ConversationStream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for cs.Recording() {
			buf := make([]byte, cs.chunkSize)
			n, err := io.ReadFull(cs.source, buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || !cs.Recording() {
				return
			}
			yield(nil, fmt.Errorf("audio: read capture: %w", err))
			return
		}
	}
}

// Reset stops capture and playback. Buffered playback is discarded when the
// sink is an Aborter and is not flushed otherwise.
func (cs *ConversationStream) Reset() error {
	return errors.Join(cs.StopRecording(), cs.abortPlayback())
}

func (cs *ConversationStream) abortPlayback() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.playing {
		return nil
	}
	cs.playing = false
	if a, ok := cs.sink.(Aborter); ok {
		return a.Abort()
	}
	return cs.sink.Stop()
}

// Close stops the stream and closes source and sink if they implement
// io.Closer.
func (cs *ConversationStream) Close() error {
	errs := []error{cs.Reset()}
	if c, ok := cs.source.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := cs.sink.(io.Closer); ok && any(cs.sink) != any(cs.source) {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
