package handset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haivivi/handset/pkg/hook"
	"github.com/haivivi/handset/pkg/metrics"
)

type fakeAssistant struct {
	mu      sync.Mutex
	resets  int
	calls   int
	results []bool
	err     error
	block   bool
	started chan struct{}
}

func (a *fakeAssistant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets++
}

func (a *fakeAssistant) Assist(ctx context.Context) (bool, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()

	if a.started != nil {
		select {
		case a.started <- struct{}{}:
		default:
		}
	}
	if a.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if a.err != nil {
		return false, a.err
	}
	if n > len(a.results) {
		return false, nil
	}
	return a.results[n-1], nil
}

func (a *fakeAssistant) counts() (resets, calls int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets, a.calls
}

type levelPin struct {
	level    atomic.Bool
	released atomic.Bool
}

func (p *levelPin) Read() (bool, error) { return p.level.Load(), nil }

func (p *levelPin) Release() error {
	p.released.Store(true)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandset_ConversationLoopsWhileFollowOn(t *testing.T) {
	a := &fakeAssistant{results: []bool{true, true, false}}
	h := New(a, Options{})

	h.PickedUp(context.Background())
	waitFor(t, func() bool {
		_, calls := a.counts()
		return calls == 3
	})
	h.HungUp()

	resets, calls := a.counts()
	if resets != 1 {
		t.Errorf("resets = %d, want 1", resets)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestHandset_HangUpCancelsConversation(t *testing.T) {
	a := &fakeAssistant{block: true, started: make(chan struct{}, 1)}
	h := New(a, Options{})

	h.PickedUp(context.Background())
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatal("conversation did not start")
	}

	done := make(chan struct{})
	go func() {
		h.HungUp()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HungUp did not return")
	}

	h.mu.Lock()
	idle := h.cancel == nil
	h.mu.Unlock()
	if !idle {
		t.Error("conversation still registered after hang-up")
	}
}

func TestHandset_PickUpWhileActiveIsIgnored(t *testing.T) {
	a := &fakeAssistant{block: true, started: make(chan struct{}, 1)}
	h := New(a, Options{})

	h.PickedUp(context.Background())
	<-a.started
	h.PickedUp(context.Background())
	h.HungUp()

	resets, calls := a.counts()
	if resets != 1 || calls != 1 {
		t.Errorf("resets, calls = %d, %d; want 1, 1", resets, calls)
	}
}

func TestHandset_NewConversationAfterFinish(t *testing.T) {
	a := &fakeAssistant{}
	h := New(a, Options{})

	h.PickedUp(context.Background())
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.cancel == nil
	})
	h.PickedUp(context.Background())
	waitFor(t, func() bool {
		_, calls := a.counts()
		return calls == 2
	})
	h.HungUp()

	if resets, _ := a.counts(); resets != 2 {
		t.Errorf("resets = %d, want 2", resets)
	}
}

func TestHandset_RunReturnsConversationFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &fakeAssistant{err: boom}
	h := New(a, Options{Monitor: &hook.Monitor{Interval: time.Millisecond}})

	pin := &levelPin{}
	pin.level.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.Run(ctx, pin)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
	if ctx.Err() != nil {
		t.Error("Run returned only after the test deadline")
	}
	if !pin.released.Load() {
		t.Error("pin not released")
	}
}

func TestHandset_RunFollowsHook(t *testing.T) {
	a := &fakeAssistant{block: true, started: make(chan struct{}, 1)}
	m := metrics.New("")
	h := New(a, Options{Monitor: &hook.Monitor{Interval: time.Millisecond}, Metrics: m})
	pin := &levelPin{}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx, pin) }()

	pin.level.Store(true)
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pickup did not start a conversation")
	}

	pin.level.Store(false)
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.cancel == nil
	})

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if !pin.released.Load() {
		t.Error("pin not released")
	}
	if resets, calls := a.counts(); resets != 1 || calls != 1 {
		t.Errorf("resets, calls = %d, %d; want 1, 1", resets, calls)
	}
	if got := testutil.ToFloat64(m.HookEventsTotal.WithLabelValues("up")); got != 1 {
		t.Errorf("up events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HookEventsTotal.WithLabelValues("down")); got != 2 {
		t.Errorf("down events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ConversationsActive); got != 0 {
		t.Errorf("active conversations = %v, want 0", got)
	}
}
