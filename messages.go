package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chicken/broker/internal/events"
	"chicken/broker/internal/export"
	"chicken/broker/internal/input"
	"chicken/broker/internal/replay"
	"chicken/broker/internal/session"
	"chicken/broker/internal/trial"
)

// Inbound message types sent by the participant's browser.
const (
	msgHello         = "hello"
	msgResume        = "resume"
	msgInput         = "input"
	msgAck           = "ack"
	msgContinue      = "continue"
	msgQuestionnaire = "questionnaire"
)

// Outbound message types.
const (
	msgWelcome   = "welcome"
	msgEvent     = "event"
	msgSnapshot  = "snapshot"
	msgSubmitted = "submitted"
	msgError     = "error"
)

var (
	errEmptyMessage       = errors.New("empty message")
	errMissingType        = errors.New("message missing type")
	errMissingResumeToken = errors.New("resume message missing token")
	errInputSequence      = errors.New("input sequence id must be positive")
)

// inboundMessage is the union of every message a participant sends. Only the fields
// relevant to Type are populated.
type inboundMessage struct {
	Type string `json:"type"`

	// hello
	Appearance *appearancePayload `json:"appearance,omitempty"`
	Browser    *export.Browser    `json:"browser,omitempty"`
	FromMturk  bool               `json:"fromMturk,omitempty"`

	// resume
	Token string `json:"token,omitempty"`

	// input
	SequenceID uint64  `json:"seq,omitempty"`
	Horizontal float64 `json:"horizontal"`
	Vertical   float64 `json:"vertical"`
	SentAtMs   int64   `json:"sent_at_ms,omitempty"`

	// ack reuses SequenceID.

	// questionnaire
	Questionnaire *session.Questionnaire `json:"questionnaire,omitempty"`
}

type appearancePayload struct {
	Gender    string `json:"gender"`
	SkinColor string `json:"skinColor"`
}

// decodeMessage parses a websocket frame into a structured message.
func decodeMessage(raw []byte) (*inboundMessage, error) {
	//1.- Ensure we have data to decode before hitting JSON parsing.
	if len(raw) == 0 {
		return nil, errEmptyMessage
	}
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errMissingType
	}
	return &msg, nil
}

// validateMessage enforces required fields per message type.
func validateMessage(msg *inboundMessage) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	switch msg.Type {
	case msgHello, msgContinue:
		return nil
	case msgResume:
		if msg.Token == "" {
			return errMissingResumeToken
		}
	case msgInput:
		if msg.SequenceID == 0 {
			return errInputSequence
		}
	case msgAck:
		if msg.SequenceID == 0 {
			return fmt.Errorf("ack sequence must be positive: %d", msg.SequenceID)
		}
	case msgQuestionnaire:
		if msg.Questionnaire == nil {
			return errors.New("questionnaire message missing answers")
		}
		return msg.Questionnaire.Participant.Validate()
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// appearance converts the hello payload into the avatar choice, falling back to the
// default avatar when none was picked.
func (msg *inboundMessage) appearance() (export.Appearance, error) {
	if msg == nil || msg.Appearance == nil {
		return export.DefaultAppearance(), nil
	}
	gender, err := trial.ParseGender(msg.Appearance.Gender)
	if err != nil {
		return export.Appearance{}, err
	}
	skin, err := trial.ParseSkinColor(msg.Appearance.SkinColor)
	if err != nil {
		return export.Appearance{}, err
	}
	return export.Appearance{Gender: gender, SkinColor: skin}, nil
}

// inputFrame converts an input message into a gate frame for sessionID.
func (msg *inboundMessage) inputFrame(sessionID string) input.Frame {
	frame := input.Frame{
		SessionID: sessionID,
		Sequence:  msg.SequenceID,
		Axes:      input.Axes{Horizontal: msg.Horizontal, Vertical: msg.Vertical},
	}
	//1.- Treat missing timestamps as unset so freshness derives from arrival time.
	if msg.SentAtMs != 0 {
		frame.SentAt = time.UnixMilli(msg.SentAtMs)
	}
	return frame
}

type welcomeMessage struct {
	Type        string                    `json:"type"`
	SessionID   string                    `json:"session_id"`
	ResumeToken string                    `json:"resume_token"`
	Resumed     bool                      `json:"resumed"`
	Protocol    replay.ProtocolParameters `json:"protocol"`
}

type eventMessage struct {
	Type  string           `json:"type"`
	Event *events.Envelope `json:"event"`
}

type snapshotMessage struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type submittedMessage struct {
	Type           string `json:"type"`
	CompletionCode string `json:"completion_code"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func encodeError(message string) []byte {
	data, _ := json.Marshal(errorMessage{Type: msgError, Message: message})
	return data
}
