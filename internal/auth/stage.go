package auth

import (
	"errors"
	"fmt"
)

// Stage is one step of the sign-in flow.
type Stage string

const (
	StageLogin          Stage = "login"
	StageSignup         Stage = "signup"
	StageVerifyEmail    Stage = "verify-email"
	StageForgotPassword Stage = "forgot-password"
	StageResetLinkSent  Stage = "reset-link-sent"
	StageResetPassword  Stage = "reset-password"
)

// Event is something the user did on a stage.
type Event string

const (
	EventLoginSucceeded  Event = "login-succeeded"
	EventLoginUnverified Event = "login-unverified"
	EventLoginFailed     Event = "login-failed"
	EventForgotPassword  Event = "forgot-password"
	EventShowSignup      Event = "show-signup"
	EventShowLogin       Event = "show-login"
	EventRegistered      Event = "registered"
	EventVerified        Event = "verified"
	EventGoBack          Event = "go-back"
	EventResetMatched    Event = "reset-matched"
	EventResetUnmatched  Event = "reset-unmatched"
	EventSimulateClick   Event = "simulate-click"
	EventPasswordReset   Event = "password-reset"
)

var ErrInvalidTransition = errors.New("invalid stage transition")

type edge struct {
	from Stage
	ev   Event
}

var transitions = map[edge]Stage{
	{StageLogin, EventLoginSucceeded}:  StageLogin,
	{StageLogin, EventLoginUnverified}: StageVerifyEmail,
	{StageLogin, EventLoginFailed}:     StageLogin,
	{StageLogin, EventForgotPassword}:  StageForgotPassword,
	{StageLogin, EventShowSignup}:      StageSignup,

	{StageSignup, EventRegistered}: StageVerifyEmail,
	{StageSignup, EventShowLogin}:  StageLogin,

	{StageVerifyEmail, EventVerified}: StageLogin,
	{StageVerifyEmail, EventGoBack}:   StageSignup,

	{StageForgotPassword, EventResetMatched}:   StageResetLinkSent,
	{StageForgotPassword, EventResetUnmatched}: StageForgotPassword,
	{StageForgotPassword, EventShowLogin}:      StageLogin,

	{StageResetLinkSent, EventSimulateClick}: StageResetPassword,
	{StageResetLinkSent, EventShowLogin}:     StageLogin,

	{StageResetPassword, EventPasswordReset}: StageLogin,
	{StageResetPassword, EventShowLogin}:     StageLogin,
}

// navigation events carry no form and may be fired directly by the view.
var navigation = map[Event]bool{
	EventForgotPassword: true,
	EventShowSignup:     true,
	EventShowLogin:      true,
	EventGoBack:         true,
	EventSimulateClick:  true,
}

// Transition is the pure stage table. Pairs outside the table yield
// ErrInvalidTransition.
func Transition(from Stage, ev Event) (Stage, error) {
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// IsNavigation reports whether ev can be fired without a form submit.
func IsNavigation(ev Event) bool {
	return navigation[ev]
}
