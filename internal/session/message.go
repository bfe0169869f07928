package session

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeStatus         MessageType = "status"
	MessageTypeInterim        MessageType = "interim"
	MessageTypeFinal          MessageType = "final"
	MessageTypeFinalOriginal  MessageType = "final_original"
	MessageTypeFinalCorrected MessageType = "final_corrected"
	MessageTypeError          MessageType = "error"
)

const StatusStarted = "started"

// OutboundMessage is one JSON frame sent to the client. Seq identifies the
// utterance a final or corrected message belongs to and is not serialized.
type OutboundMessage struct {
	Type         MessageType
	Text         string
	Language     string
	Offset       time.Duration
	Duration     time.Duration
	OriginalText string
	Seq          int64

	timed bool
}

func (m OutboundMessage) IsInterim() bool {
	return m.Type == MessageTypeInterim
}

type wireMessage struct {
	Type         MessageType `json:"type"`
	Text         string      `json:"text"`
	Language     string      `json:"language,omitempty"`
	Offset       *int64      `json:"offset,omitempty"`
	Duration     *int64      `json:"duration,omitempty"`
	OriginalText string      `json:"original_text,omitempty"`
}

// MarshalJSON writes offset and duration as integer milliseconds.
func (m OutboundMessage) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Type:         m.Type,
		Text:         m.Text,
		Language:     m.Language,
		OriginalText: m.OriginalText,
	}
	if m.timed {
		offset := m.Offset.Milliseconds()
		duration := m.Duration.Milliseconds()
		w.Offset = &offset
		w.Duration = &duration
	}
	return json.Marshal(w)
}

func StatusMessage(text string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeStatus, Text: text}
}

func InterimMessage(text string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeInterim, Text: text}
}

func ErrorMessage(text string) OutboundMessage {
	return OutboundMessage{Type: MessageTypeError, Text: text}
}

func FinalMessage(u Utterance) OutboundMessage {
	return finalMessage(MessageTypeFinal, u)
}

func FinalOriginalMessage(u Utterance) OutboundMessage {
	return finalMessage(MessageTypeFinalOriginal, u)
}

func FinalCorrectedMessage(u Utterance, corrected string) OutboundMessage {
	m := finalMessage(MessageTypeFinalCorrected, u)
	m.Text = corrected
	m.OriginalText = u.Text
	return m
}

func finalMessage(t MessageType, u Utterance) OutboundMessage {
	return OutboundMessage{
		Type:     t,
		Text:     u.Text,
		Language: u.Language,
		Offset:   u.Offset,
		Duration: u.Duration,
		Seq:      u.Seq,
		timed:    true,
	}
}

// Utterance is one final span of recognized speech. Seq is unique and
// increasing within a session.
type Utterance struct {
	Seq      int64
	Text     string
	Language string
	Offset   time.Duration
	Duration time.Duration
}
