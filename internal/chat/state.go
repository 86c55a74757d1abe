package chat

import (
	"errors"
	"fmt"
)

// Status is the connection state shown in the chat window.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusSearching    Status = "searching"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Action drives Status.
type Action string

const (
	ActionFind       Action = "find"
	ActionFound      Action = "found"
	ActionNoneFound  Action = "none-found"
	ActionDisconnect Action = "disconnect"
	// ActionClear drops the peer: disconnect completion, block, or reset.
	ActionClear Action = "clear"
)

// VoiceStatus is the call sub-state, independent of Status.
type VoiceStatus string

const (
	VoiceIdle      VoiceStatus = "idle"
	VoiceCalling   VoiceStatus = "calling"
	VoiceConnected VoiceStatus = "connected"
)

type VoiceAction string

const (
	VoiceInitiate VoiceAction = "initiate"
	VoiceAnswered VoiceAction = "answered"
	VoiceEnd      VoiceAction = "end"
	VoiceReset    VoiceAction = "reset"
)

var ErrInvalidTransition = errors.New("chat: invalid transition")

// Next is the pure connection table.
func Next(s Status, a Action) (Status, error) {
	switch a {
	case ActionFind:
		// "find new" from a live chat restarts the search from scratch
		if s != StatusSearching {
			return StatusSearching, nil
		}
	case ActionFound:
		if s == StatusSearching {
			return StatusConnected, nil
		}
	case ActionNoneFound:
		if s == StatusSearching {
			return StatusIdle, nil
		}
	case ActionDisconnect:
		if s == StatusConnected {
			return StatusDisconnected, nil
		}
	case ActionClear:
		return StatusIdle, nil
	}
	return s, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, a, s)
}

// NextVoice is the pure voice table.
func NextVoice(v VoiceStatus, a VoiceAction) (VoiceStatus, error) {
	switch a {
	case VoiceInitiate:
		if v == VoiceIdle {
			return VoiceCalling, nil
		}
	case VoiceAnswered:
		if v == VoiceCalling {
			return VoiceConnected, nil
		}
	case VoiceEnd:
		if v == VoiceConnected {
			return VoiceIdle, nil
		}
	case VoiceReset:
		return VoiceIdle, nil
	}
	return v, fmt.Errorf("%w: voice %s while %s", ErrInvalidTransition, a, v)
}
