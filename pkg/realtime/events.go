package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Handler receives server events from a Session. All methods are invoked
// sequentially from the session's receive goroutine, so implementations see
// events in wire order and need no internal ordering of their own.
type Handler interface {
	// OnAudioDelta delivers a decoded chunk of model speech belonging to
	// the assistant item itemID.
	OnAudioDelta(itemID string, audio []byte)
	// OnAudioDone fires when the model has finished emitting audio for an
	// assistant item.
	OnAudioDone(itemID string)
	// OnSpeechStarted fires when the server VAD detects the caller talking.
	OnSpeechStarted()
	// OnSpeechStopped fires when the server VAD detects end of caller speech.
	OnSpeechStopped()
	// OnCallerTranscript delivers the completed transcription of one caller
	// turn.
	OnCallerTranscript(itemID, transcript string)
	// OnAssistantTranscript delivers the completed transcript of one
	// assistant audio item.
	OnAssistantTranscript(itemID, transcript string)
	// OnFunctionCall fires when the model invokes a tool.
	OnFunctionCall(call FunctionCall)
	// OnResponseDone fires when a full model response settles, whatever its
	// final status.
	OnResponseDone(resp ResponseDone)
	// OnError receives non-fatal error events from the server.
	OnError(err error)
}

// FunctionCall is a completed tool invocation from the model.
type FunctionCall struct {
	ItemID    string
	CallID    string
	Name      string
	Arguments string // raw JSON
}

// ResponseDone summarizes a settled model response.
type ResponseDone struct {
	ID     string
	Status string
	Output []ResponseItem
}

// ResponseItem is one output item of a settled response.
type ResponseItem struct {
	ID      string
	Type    string
	Role    string
	Content []ContentPart
}

// ContentPart is one content element of a response item.
type ContentPart struct {
	Type       string
	Transcript string
}

// HasAssistantAudio reports whether any output item is an assistant message
// carrying audio content.
func (r ResponseDone) HasAssistantAudio() bool {
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "audio" || c.Type == "output_audio" {
				return true
			}
		}
	}
	return false
}

// ── Server event wire types ───────────────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.done
	ItemID string `json:"item_id,omitempty"`
	Delta  string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed /
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// response.done
	Response *wireResponse `json:"response,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type wireResponse struct {
	ID     string             `json:"id,omitempty"`
	Status string             `json:"status,omitempty"`
	Output []wireResponseItem `json:"output,omitempty"`
}

type wireResponseItem struct {
	ID      string            `json:"id,omitempty"`
	Type    string            `json:"type,omitempty"`
	Role    string            `json:"role,omitempty"`
	Content []wireContentPart `json:"content,omitempty"`
}

type wireContentPart struct {
	Type       string `json:"type,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// serverErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// receiveLoop reads events from the WebSocket and dispatches them to the
// handler. It closes done when it exits.
func (s *Session) receiveLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(fmt.Errorf("realtime: read: %w", err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Malformed event, skip and keep the session alive.
			continue
		}

		s.dispatch(&evt)
	}
}

func (s *Session) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta", "response.output_audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		s.handler.OnAudioDelta(evt.ItemID, audioData)

	case "response.audio.done", "response.output_audio.done":
		s.handler.OnAudioDone(evt.ItemID)

	case "input_audio_buffer.speech_started":
		s.handler.OnSpeechStarted()

	case "input_audio_buffer.speech_stopped":
		s.handler.OnSpeechStopped()

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.handler.OnCallerTranscript(evt.ItemID, evt.Transcript)

	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		if evt.Transcript == "" {
			return
		}
		s.handler.OnAssistantTranscript(evt.ItemID, evt.Transcript)

	case "response.function_call_arguments.done":
		s.handler.OnFunctionCall(FunctionCall{
			ItemID:    evt.ItemID,
			CallID:    evt.CallID,
			Name:      evt.Name,
			Arguments: evt.Arguments,
		})

	case "response.done":
		resp := ResponseDone{}
		if evt.Response != nil {
			resp.ID = evt.Response.ID
			resp.Status = evt.Response.Status
			resp.Output = make([]ResponseItem, len(evt.Response.Output))
			for i, item := range evt.Response.Output {
				ri := ResponseItem{
					ID:      item.ID,
					Type:    item.Type,
					Role:    item.Role,
					Content: make([]ContentPart, len(item.Content)),
				}
				for j, c := range item.Content {
					ri.Content[j] = ContentPart{Type: c.Type, Transcript: c.Transcript}
				}
				resp.Output[i] = ri
			}
		}
		s.handler.OnResponseDone(resp)

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.handler.OnError(fmt.Errorf("realtime: %s", msg))
	}
}
