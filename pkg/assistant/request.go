package assistant

import (
	"iter"

	embedded "google.golang.org/genproto/googleapis/assistant/embedded/v1alpha2"
)

// dialogIn is the dialog state sent with the first request of a turn.
type dialogIn struct {
	conversationState []byte
	isNew             bool
}

// configRequest builds the first request of a turn.
func (s *Session) configRequest(in dialogIn) *embedded.AssistRequest {
	rate := int32(s.audio.SampleRate())
	cfg := &embedded.AssistConfig{
		Type: &embedded.AssistConfig_AudioInConfig{
			AudioInConfig: &embedded.AudioInConfig{
				Encoding:        embedded.AudioInConfig_LINEAR16,
				SampleRateHertz: rate,
			},
		},
		AudioOutConfig: &embedded.AudioOutConfig{
			Encoding:         embedded.AudioOutConfig_LINEAR16,
			SampleRateHertz:  rate,
			VolumePercentage: int32(s.audio.Volume()),
		},
		DialogStateIn: &embedded.DialogStateIn{
			LanguageCode:      s.languageCode,
			ConversationState: in.conversationState,
			IsNewConversation: in.isNew,
		},
		DeviceConfig: &embedded.DeviceConfig{
			DeviceId:      s.device.ID,
			DeviceModelId: s.device.ModelID,
		},
	}
	if s.display {
		cfg.ScreenOutConfig = &embedded.ScreenOutConfig{
			ScreenMode: embedded.ScreenOutConfig_PLAYING,
		}
	}
	return &embedded.AssistRequest{
		Type: &embedded.AssistRequest_Config{Config: cfg},
	}
}

// requests yields the config request followed by one audio request per
// captured chunk, until capture stops.
func (s *Session) requests(in dialogIn) iter.Seq2[*embedded.AssistRequest, error] {
	return func(yield func(*embedded.AssistRequest, error) bool) {
		if !yield(s.configRequest(in), nil) {
			return
		}
		for chunk, err := range s.audio.Chunks() {
			if err != nil {
				yield(nil, err)
				return
			}
			req := &embedded.AssistRequest{
				Type: &embedded.AssistRequest_AudioIn{AudioIn: chunk},
			}
			if !yield(req, nil) {
				return
			}
		}
		s.log.Debug("assistant: reached end of request iteration")
	}
}
