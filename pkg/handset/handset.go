// Package handset connects the hook switch to the assistant: lifting the
// handset starts a conversation and hanging up ends it.
package handset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haivivi/handset/pkg/hook"
	"github.com/haivivi/handset/pkg/metrics"
)

// Assistant runs conversation turns. It is implemented by
// *assistant.Session.
type Assistant interface {
	// Reset starts a fresh conversation.
	Reset()
	// Assist performs one turn and reports whether another is expected.
	Assist(ctx context.Context) (bool, error)
}

// Options configures a Handset. Zero values select defaults.
type Options struct {
	// Monitor watches the hook switch. Nil means a default monitor.
	Monitor *hook.Monitor
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Handset owns the assistant session for the lifetime of the process.
type Handset struct {
	assistant Assistant
	monitor   *hook.Monitor
	metrics   *metrics.Metrics
	log       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	fatal  chan error
}

// New creates a handset driving a.
func New(a Assistant, opts Options) *Handset {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = &hook.Monitor{}
	}
	if monitor.Logger == nil {
		monitor.Logger = logger
	}
	return &Handset{
		assistant: a,
		monitor:   monitor,
		metrics:   opts.Metrics,
		log:       logger,
		fatal:     make(chan error, 1),
	}
}

// Run watches pin until ctx is done or a conversation fails. A failed
// conversation stops the watch and its error is returned. The pin is
// released on return.
func (h *Handset) Run(ctx context.Context, pin hook.Pin) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var failure error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case failure = <-h.fatal:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := h.monitor.Run(ctx, pin,
		func() { h.PickedUp(ctx) },
		h.HungUp,
	)
	h.endConversation()
	cancel()
	wg.Wait()

	if failure != nil {
		return failure
	}
	return err
}

// PickedUp starts a new conversation. A conversation already in progress is
// left running.
func (h *Handset) PickedUp(ctx context.Context) {
	h.log.Info("handset: receiver picked up")
	h.metrics.RecordHookEvent(hook.Up.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	h.assistant.Reset()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	h.metrics.RecordConversationStart()
	go func() {
		defer close(done)
		defer cancel()
		defer h.metrics.RecordConversationEnd()
		h.converse(ctx)
	}()
}

// HungUp cancels the conversation in progress, if any, and waits for it to
// wind down.
func (h *Handset) HungUp() {
	h.metrics.RecordHookEvent(hook.Down.String())
	if h.endConversation() {
		h.log.Info("handset: receiver hung up, ending conversation")
		return
	}
	h.log.Info("handset: receiver hung up")
}

// endConversation cancels the conversation in progress and waits for it. It
// reports whether there was one.
func (h *Handset) endConversation() bool {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// converse loops turns until the assistant closes the microphone.
func (h *Handset) converse(ctx context.Context) {
	for {
		more, err := h.assistant.Assist(ctx)
		if err != nil {
			if ctx.Err() != nil {
				h.log.Debug("handset: conversation canceled", "error", err)
				return
			}
			h.log.Error("handset: conversation failed", "error", err)
			select {
			case h.fatal <- err:
			default:
			}
			return
		}
		if !more {
			h.log.Info("handset: conversation finished")
			h.release()
			return
		}
	}
}

// release forgets a conversation that ended on its own so the next pickup
// starts a new one.
func (h *Handset) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel, h.done = nil, nil
}
