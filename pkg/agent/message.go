// Package agent runs workflow commands against the external agent runtime
// and parses its streamed output.
//
// The runtime is a black box reached through the Runtime interface: it
// consumes a prompt and produces a stream of structured messages, ending
// with a terminal result. Tool-permission checks arrive inline as control
// requests; the Facade's gate answers them, delegating human questions to
// the question broker.
package agent

import (
	"encoding/json"
	"strings"
)

// MessageType identifies the kind of streamed message.
type MessageType string

const (
	MessageTypeInit      MessageType = "init"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeResult    MessageType = "result"
	MessageTypeRaw       MessageType = "raw"
	MessageTypeError     MessageType = "error"
)

// Message is one streamed message from the agent runtime. The channel
// returned by Runtime.Run is closed when the stream completes; stream-level
// failures are delivered as ErrorMessage values.
type Message interface {
	messageType() MessageType
}

// InitMessage is the first message of a stream, carrying the session id.
type InitMessage struct {
	SessionID string
	Model     string
}

// AssistantMessage carries the text content of one assistant turn.
type AssistantMessage struct {
	Text string
}

// ResultMessage is the terminal message of a stream.
type ResultMessage struct {
	Subtype      string
	IsError      bool
	Result       string
	Errors       []string
	SessionID    string
	DurationMS   int64
	TotalCostUSD float64
	NumTurns     int
}

// RawMessage preserves stream messages the core does not interpret.
type RawMessage struct {
	Type string
	Data json.RawMessage
}

// ErrorMessage signals a stream-level failure (decode error, process death).
type ErrorMessage struct {
	Err error
}

func (m *InitMessage) messageType() MessageType      { return MessageTypeInit }
func (m *AssistantMessage) messageType() MessageType { return MessageTypeAssistant }
func (m *ResultMessage) messageType() MessageType    { return MessageTypeResult }
func (m *RawMessage) messageType() MessageType       { return MessageTypeRaw }
func (m *ErrorMessage) messageType() MessageType     { return MessageTypeError }

// wire shapes for the runtime's line protocol.

type wireEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	// system/init
	SessionID string `json:"session_id"`
	Model     string `json:"model"`

	// assistant
	Message *wireAssistantBody `json:"message"`

	// result
	IsError      bool     `json:"is_error"`
	Result       string   `json:"result"`
	Errors       []string `json:"errors"`
	DurationMS   int64    `json:"duration_ms"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	NumTurns     int      `json:"num_turns"`
}

type wireAssistantBody struct {
	Content []wireContentBlock `json:"content"`
}

type wireContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseLine decodes one NDJSON line into a typed message. Control requests
// are handled by the runtime before parsing and never reach here. Unknown
// message types come back as RawMessage so subscribers still see them.
func ParseLine(line []byte) Message {
	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return &RawMessage{Type: "unparseable", Data: append(json.RawMessage(nil), line...)}
	}

	switch env.Type {
	case "system":
		if env.Subtype == "init" {
			return &InitMessage{SessionID: env.SessionID, Model: env.Model}
		}
	case "assistant":
		var sb strings.Builder
		if env.Message != nil {
			for _, block := range env.Message.Content {
				if block.Type == "text" {
					sb.WriteString(block.Text)
				}
			}
		}
		return &AssistantMessage{Text: sb.String()}
	case "result":
		return &ResultMessage{
			Subtype:      env.Subtype,
			IsError:      env.IsError,
			Result:       env.Result,
			Errors:       env.Errors,
			SessionID:    env.SessionID,
			DurationMS:   env.DurationMS,
			TotalCostUSD: env.TotalCostUSD,
			NumTurns:     env.NumTurns,
		}
	}
	return &RawMessage{Type: env.Type, Data: append(json.RawMessage(nil), line...)}
}
