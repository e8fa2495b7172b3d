// Package assistant runs voice conversation turns against the Google
// Assistant embedded API.
package assistant

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	embedded "google.golang.org/genproto/googleapis/assistant/embedded/v1alpha2"
	"google.golang.org/grpc/status"

	"github.com/haivivi/handset/pkg/action"
	"github.com/haivivi/handset/pkg/device"
	"github.com/haivivi/handset/pkg/metrics"
)

const (
	// DefaultDeadline bounds a single streaming call.
	DefaultDeadline = 185 * time.Second
	// DefaultLanguageCode is the conversation language.
	DefaultLanguageCode = "en-US"
)

// AudioStream is the duplex audio used by a turn. It is implemented by
// *audio.ConversationStream.
type AudioStream interface {
	StartRecording() error
	StopRecording() error
	StartPlayback() error
	StopPlayback() error
	Playing() bool
	Write(p []byte) (int, error)
	Chunks() iter.Seq2[[]byte, error]
	SampleRate() int
	Volume() int
	SetVolume(v int)
	Reset() error
}

// ActionHandler starts the device actions of a response. It is implemented
// by *action.Handler.
type ActionHandler interface {
	Handle(ctx context.Context, requestJSON []byte) ([]*action.Future, error)
}

// TurnResult is what a successful turn produced.
type TurnResult struct {
	ContinueConversation bool
	ConversationState    []byte
	// VolumePercentage is the volume requested by the assistant, 0 if none.
	VolumePercentage int
	Actions          []*action.Future
}

// Config configures a Session.
type Config struct {
	Device       device.Identity
	LanguageCode string
	// Display requests screen output alongside audio.
	Display  bool
	Deadline time.Duration
	Retry    RetryPolicy
	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session holds the conversation with the assistant. It is safe to call
// Reset concurrently with Assist, but Assist calls must not overlap.
type Session struct {
	client  embedded.EmbeddedAssistantClient
	audio   AudioStream
	actions ActionHandler

	device       device.Identity
	languageCode string
	display      bool
	deadline     time.Duration
	retry        RetryPolicy
	metrics      *metrics.Metrics
	log          *slog.Logger

	mu                sync.Mutex
	conversationState []byte
	isNewConversation bool
}

// NewSession creates a session. actions may be nil if the device has no
// local actions.
func NewSession(client embedded.EmbeddedAssistantClient, stream AudioStream, actions ActionHandler, cfg Config) *Session {
	s := &Session{
		client:            client,
		audio:             stream,
		actions:           actions,
		device:            cfg.Device,
		languageCode:      cfg.LanguageCode,
		display:           cfg.Display,
		deadline:          cfg.Deadline,
		retry:             cfg.Retry,
		metrics:           cfg.Metrics,
		log:               cfg.Logger,
		isNewConversation: true,
	}
	if s.languageCode == "" {
		s.languageCode = DefaultLanguageCode
	}
	if s.deadline <= 0 {
		s.deadline = DefaultDeadline
	}
	if s.retry.MaxAttempts == 0 {
		s.retry = DefaultRetryPolicy()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Reset starts a fresh conversation: the next turn is sent with an empty
// conversation state and is_new_conversation set.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationState = nil
	s.isNewConversation = true
}

// ConversationState returns the state token that the next turn will send.
func (s *Session) ConversationState() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationState
}

// Assist records a spoken request, streams it to the assistant and plays the
// response. It reports whether the assistant expects a follow-on request.
//
// The call is retried when the assistant is unavailable. Capture and
// playback are reset after every failed attempt and the conversation state
// is only updated by the attempt that succeeds.
func (s *Session) Assist(ctx context.Context) (bool, error) {
	s.mu.Lock()
	in := dialogIn{isNew: s.isNewConversation}
	if !in.isNew {
		in.conversationState = s.conversationState
	}
	s.mu.Unlock()

	start := time.Now()
	var result *TurnResult
	attempts, err := s.retry.Do(ctx, func(ctx context.Context) error {
		r, err := s.turn(ctx, in)
		if err != nil {
			if rerr := s.audio.Reset(); rerr != nil {
				s.log.Warn("assistant: reset audio", "error", rerr)
			}
			if IsUnavailable(err) {
				s.log.Error("assistant: grpc unavailable", "error", err)
			}
			return err
		}
		result = r
		return nil
	})
	s.recordTurn(ctx, err, attempts, time.Since(start))
	var perm *permanentError
	if errors.As(err, &perm) {
		err = perm.err
	}
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return false, &TransportError{Attempts: attempts, Err: err}
		}
		return false, fmt.Errorf("assistant: assist: %w", err)
	}

	s.mu.Lock()
	if len(result.ConversationState) > 0 {
		s.conversationState = result.ConversationState
	}
	s.isNewConversation = false
	s.mu.Unlock()

	return result.ContinueConversation, nil
}

func (s *Session) recordTurn(ctx context.Context, err error, attempts int, d time.Duration) {
	st := metrics.StatusSuccess
	switch {
	case err == nil:
	case ctx.Err() != nil:
		st = metrics.StatusCanceled
	default:
		st = metrics.StatusError
	}
	s.metrics.RecordTurn(st, attempts, d)
}

// turn performs one streaming call.
func (s *Session) turn(ctx context.Context, in dialogIn) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	if err := s.audio.StartRecording(); err != nil {
		return nil, err
	}
	s.log.Info("assistant: recording audio request")

	g, gctx := errgroup.WithContext(ctx)
	gctx, abort := context.WithCancel(gctx)
	defer abort()

	stream, err := s.client.Assist(gctx)
	if err != nil {
		return nil, err
	}

	g.Go(func() error {
		defer func() {
			if err := stream.CloseSend(); err != nil {
				s.log.Debug("assistant: close send", "error", err)
			}
		}()
		for req, err := range s.requests(in) {
			if err != nil {
				return err
			}
			logRequest(s.log, req)
			if err := stream.Send(req); err != nil {
				if errors.Is(err, io.EOF) {
					// The server closed the stream; Recv reports why.
					return nil
				}
				return err
			}
			if audio := req.GetAudioIn(); len(audio) > 0 {
				s.metrics.RecordAudio("in", len(audio))
			}
		}
		return nil
	})

	result := &TurnResult{}
	var recvErr, handleErr error
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		// Device actions outlive the call and are awaited below, so they get
		// the turn context rather than the call's.
		if err := s.handleResponse(ctx, resp, result); err != nil {
			handleErr = err
			abort()
			break
		}
	}

	if err := s.audio.StopRecording(); err != nil {
		s.log.Warn("assistant: stop recording", "error", err)
	}
	// A send failure cancels the call, so it explains a receive failure.
	sendErr := g.Wait()
	if err := cmp.Or(handleErr, sendErr, recvErr); err != nil {
		if len(result.Actions) > 0 {
			// Retrying would ask for the same actions again.
			s.waitActions(ctx, result.Actions)
			return nil, permanent(err)
		}
		return nil, err
	}

	if err := s.waitActions(ctx, result.Actions); err != nil {
		return nil, err
	}

	s.log.Info("assistant: finished playing assistant response")
	if err := s.audio.StopPlayback(); err != nil {
		return nil, err
	}
	return result, nil
}

// waitActions waits for dispatched device actions. Command failures are
// logged; only cancellation of ctx is returned.
func (s *Session) waitActions(ctx context.Context, fs []*action.Future) error {
	if len(fs) == 0 {
		return nil
	}
	s.log.Info("assistant: waiting for device executions to complete")
	if err := action.WaitAll(ctx, fs); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("assistant: device execution failed", "error", err)
	}
	return nil
}

// handleResponse applies one response to the audio stream and the turn
// result.
func (s *Session) handleResponse(ctx context.Context, resp *embedded.AssistResponse, result *TurnResult) error {
	logResponse(s.log, resp)

	if resp.GetEventType() == embedded.AssistResponse_END_OF_UTTERANCE {
		s.log.Info("assistant: end of audio request detected, stopping recording")
		if err := s.audio.StopRecording(); err != nil {
			return err
		}
	}

	if results := resp.GetSpeechResults(); len(results) > 0 {
		parts := make([]string, len(results))
		for i, r := range results {
			parts[i] = r.GetTranscript()
		}
		s.log.Info("assistant: transcript of user request", "transcript", strings.Join(parts, " "))
	}

	if data := resp.GetAudioOut().GetAudioData(); len(data) > 0 {
		if !s.audio.Playing() {
			if err := s.audio.StopRecording(); err != nil {
				return err
			}
			if err := s.audio.StartPlayback(); err != nil {
				return err
			}
			s.log.Info("assistant: playing assistant response")
		}
		if _, err := s.audio.Write(data); err != nil {
			return fmt.Errorf("assistant: play response: %w", err)
		}
		s.metrics.RecordAudio("out", len(data))
	}

	dialog := resp.GetDialogStateOut()
	if text := dialog.GetSupplementalDisplayText(); text != "" {
		s.log.Info("assistant: display text", "text", text)
	}
	if state := dialog.GetConversationState(); len(state) > 0 {
		s.log.Debug("assistant: updating conversation state")
		result.ConversationState = state
	}
	if vol := int(dialog.GetVolumePercentage()); vol != 0 {
		s.log.Info("assistant: setting volume", "percentage", vol)
		s.audio.SetVolume(vol)
		result.VolumePercentage = vol
	}
	switch dialog.GetMicrophoneMode() {
	case embedded.DialogStateOut_DIALOG_FOLLOW_ON:
		result.ContinueConversation = true
		s.log.Info("assistant: expecting follow-on query from user")
	case embedded.DialogStateOut_CLOSE_MICROPHONE:
		result.ContinueConversation = false
	}

	if reqJSON := resp.GetDeviceAction().GetDeviceRequestJson(); reqJSON != "" {
		if s.actions == nil {
			s.log.Warn("assistant: device action ignored, no handler", "request", reqJSON)
			return nil
		}
		fs, err := s.actions.Handle(ctx, []byte(reqJSON))
		if err != nil {
			s.metrics.RecordDeviceAction(metrics.StatusError)
			return err
		}
		s.metrics.RecordDeviceAction(metrics.StatusSuccess)
		result.Actions = append(result.Actions, fs...)
	}
	return nil
}

func logRequest(log *slog.Logger, req *embedded.AssistRequest) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if cfg := req.GetConfig(); cfg != nil {
		log.Debug("assistant: request config",
			"sample_rate", cfg.GetAudioInConfig().GetSampleRateHertz(),
			"volume", cfg.GetAudioOutConfig().GetVolumePercentage(),
			"language", cfg.GetDialogStateIn().GetLanguageCode(),
			"new_conversation", cfg.GetDialogStateIn().GetIsNewConversation(),
			"conversation_state_bytes", len(cfg.GetDialogStateIn().GetConversationState()),
			"device_id", cfg.GetDeviceConfig().GetDeviceId(),
		)
		return
	}
	log.Debug("assistant: request audio", "bytes", len(req.GetAudioIn()))
}

func logResponse(log *slog.Logger, resp *embedded.AssistResponse) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	log.Debug("assistant: response",
		"event", resp.GetEventType().String(),
		"speech_results", len(resp.GetSpeechResults()),
		"audio_bytes", len(resp.GetAudioOut().GetAudioData()),
		"microphone_mode", resp.GetDialogStateOut().GetMicrophoneMode().String(),
		"device_action", resp.GetDeviceAction().GetDeviceRequestJson() != "",
	)
}
