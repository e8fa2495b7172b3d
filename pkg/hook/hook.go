// Package hook watches a handset hook switch wired to a digital input and
// reports pickup and hangup transitions.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval is the delay between pin reads while waiting for a
// transition.
const DefaultInterval = 100 * time.Millisecond

// ErrPin is returned when the input pin cannot be configured or read.
var ErrPin = errors.New("hook: pin error")

// State is the hook switch position.
type State int

const (
	// Down means the handset rests on the cradle.
	Down State = iota
	// Up means the handset is lifted.
	Up
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Up:
		return "up"
	default:
		return "down"
	}
}

// Pin is a digital input. Read reports true for a high level.
type Pin interface {
	Read() (bool, error)
	Release() error
}

// Monitor polls a Pin and dispatches one callback per transition.
type Monitor struct {
	// Interval between reads while the level is stable. Zero means
	// DefaultInterval.
	Interval time.Duration

	// Inverted maps a low level to Up. By default a high level (the pull-up
	// holding an open switch) means the handset is lifted.
	Inverted bool

	Logger *slog.Logger
}

// StateOf maps a pin level to a hook state.
func (m *Monitor) StateOf(level bool) State {
	if level != m.Inverted {
		return Up
	}
	return Down
}

// Run reads the pin, dispatches onUp or onDown for the current level and
// then waits for the level to change, dispatching again on every change. The
// first reading always dispatches exactly one event.
//
// Run blocks until ctx is done, in which case it returns nil, or until the pin
// fails. The pin is released on return.
func (m *Monitor) Run(ctx context.Context, pin Pin, onUp, onDown func()) (err error) {
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	defer func() {
		if rerr := pin.Release(); rerr != nil {
			log.Warn("hook: release pin", "error", rerr)
		}
	}()

	level, err := pin.Read()
	if err != nil {
		return fmt.Errorf("%w: read: %w", ErrPin, err)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		state := m.StateOf(level)
		log.Debug("hook: state changed", "state", state)
		if state == Up {
			onUp()
		} else {
			onDown()
		}

		for {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
				log.Info("hook: stopped")
				return nil
			case <-timer.C:
			}
			next, err := pin.Read()
			if err != nil {
				return fmt.Errorf("%w: read: %w", ErrPin, err)
			}
			if next != level {
				level = next
				break
			}
		}
	}
}
