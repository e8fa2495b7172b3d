// Package action dispatches device actions embedded in assistant responses
// to locally registered command handlers.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// IntentExecute is the intent carrying commands for the device.
const IntentExecute = "action.devices.EXECUTE"

// ErrUnknownCommand is returned when a request names a command that has no
// registered handler.
var ErrUnknownCommand = errors.New("action: unknown command")

// CommandFunc executes one command. params is the raw JSON object of command
// parameters and may be nil.
type CommandFunc func(ctx context.Context, params json.RawMessage) error

// Request is a device request as delivered in device_request_json.
type Request struct {
	RequestID string  `json:"requestId"`
	Inputs    []Input `json:"inputs"`
}

// Input is one intent of a device request.
type Input struct {
	Intent  string  `json:"intent"`
	Payload Payload `json:"payload"`
}

// Payload holds the commands of an EXECUTE intent.
type Payload struct {
	Commands []Command `json:"commands"`
}

// Command targets a set of devices with a list of executions.
type Command struct {
	Devices   []Device    `json:"devices"`
	Execution []Execution `json:"execution"`
}

// Device identifies a target device.
type Device struct {
	ID string `json:"id"`
}

// Execution is a single command invocation.
type Execution struct {
	Command string          `json:"command"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Future is the pending result of a dispatched command.
type Future struct {
	Command string

	done chan struct{}
	err  error
}

func newFuture(command string) *Future {
	return &Future{Command: command, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the command finishes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the command error. It is only valid after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Wait blocks until the command finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAll waits for every future and returns the joined command errors.
func WaitAll(ctx context.Context, fs []*Future) error {
	var errs []error
	for _, f := range fs {
		if err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", f.Command, err))
		}
	}
	return errors.Join(errs...)
}

// Handler routes EXECUTE commands addressed to one device. Commands run on a
// background goroutine one at a time, in request order.
type Handler struct {
	deviceID string
	logger   *slog.Logger

	mu       sync.RWMutex
	commands map[string]CommandFunc

	run sync.Mutex
}

// NewHandler creates a handler for commands addressed to deviceID.
func NewHandler(deviceID string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deviceID: deviceID,
		logger:   logger,
		commands: make(map[string]CommandFunc),
	}
}

// Register installs fn for the named command, replacing any previous one.
func (h *Handler) Register(command string, fn CommandFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[command] = fn
}

// Commands returns the registered command names.
func (h *Handler) Commands() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	return names
}

// Handle parses a device request and starts every execution addressed to
// this device. It returns one Future per started command, possibly none.
// An unknown command fails the whole request before anything is started.
func (h *Handler) Handle(ctx context.Context, requestJSON []byte) ([]*Future, error) {
	var req Request
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return nil, fmt.Errorf("action: parse device request: %w", err)
	}

	type call struct {
		fn     CommandFunc
		params json.RawMessage
		future *Future
	}
	var calls []call

	h.mu.RLock()
	for _, in := range req.Inputs {
		if in.Intent != IntentExecute {
			continue
		}
		for _, cmd := range in.Payload.Commands {
			if !cmd.targets(h.deviceID) {
				continue
			}
			for _, e := range cmd.Execution {
				fn, ok := h.commands[e.Command]
				if !ok {
					h.mu.RUnlock()
					return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
				}
				calls = append(calls, call{fn: fn, params: e.Params, future: newFuture(e.Command)})
			}
		}
	}
	h.mu.RUnlock()

	if len(calls) == 0 {
		return nil, nil
	}

	fs := make([]*Future, len(calls))
	for i, c := range calls {
		fs[i] = c.future
	}
	go func() {
		h.run.Lock()
		defer h.run.Unlock()
		for _, c := range calls {
			h.logger.Info("action: executing command", "command", c.future.Command)
			err := c.fn(ctx, c.params)
			if err != nil {
				h.logger.Warn("action: command failed", "command", c.future.Command, "error", err)
			}
			c.future.resolve(err)
		}
	}()
	return fs, nil
}

func (c Command) targets(deviceID string) bool {
	for _, d := range c.Devices {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}
