package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/Strangers/internal/auth"
	"github.com/Gopher0727/Strangers/internal/chat"
	"github.com/Gopher0727/Strangers/internal/session"
	"github.com/Gopher0727/Strangers/internal/social"
	"github.com/Gopher0727/Strangers/internal/utils"
)

const msgBusy = "Please wait for the current request to finish."

type errorMapping struct {
	err     error
	status  int
	message string
}

// errorTable maps engine errors to the status and text a view shows.
var errorTable = []errorMapping{
	{auth.ErrMissingFields, http.StatusBadRequest, "Please fill in all fields."},
	{auth.ErrNoAccount, http.StatusNotFound, "No user is registered. Please sign up."},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials."},
	{auth.ErrNotVerified, http.StatusForbidden, "Please verify your email address before logging in."},
	{auth.ErrAlreadyAuthenticated, http.StatusConflict, "You are already signed in."},
	{auth.ErrNotAuthenticated, http.StatusUnauthorized, "Please sign in first."},
	{auth.ErrInvalidTransition, http.StatusConflict, "That action is not available on this screen."},
	{auth.ErrBusy, http.StatusConflict, msgBusy},

	{chat.ErrBusy, http.StatusConflict, msgBusy},
	{chat.ErrNoPeer, http.StatusConflict, "You are not connected to anyone."},
	{chat.ErrEmptyMessage, http.StatusBadRequest, "Message cannot be empty."},
	{chat.ErrNoMatch, http.StatusNotFound, "No available users match your filter criteria."},
	{chat.ErrUpgradeRequired, http.StatusPaymentRequired, "Upgrade to Pro to use this feature."},
	{chat.ErrUnsupportedFile, http.StatusUnsupportedMediaType, "Unsupported file type. Please select an image or video."},
	{chat.ErrSuperseded, http.StatusConflict, "The search was cancelled."},
	{chat.ErrInvalidTransition, http.StatusConflict, "That action is not available right now."},

	{social.ErrBusy, http.StatusConflict, msgBusy},
	{social.ErrUnknownUser, http.StatusNotFound, "User not found."},

	{session.ErrBusy, http.StatusConflict, msgBusy},
	{session.ErrNotFound, http.StatusNotFound, "Session not found."},
	{session.ErrClosed, http.StatusGone, "Session has ended."},

	{context.Canceled, http.StatusRequestTimeout, "Request cancelled."},
	{context.DeadlineExceeded, http.StatusRequestTimeout, "Request timed out."},
}

// StatusFor returns the HTTP status and user-facing message of err.
func StatusFor(err error) (int, string) {
	if errs, ok := utils.AsValidationErrors(err); ok && len(errs) > 0 {
		return http.StatusUnprocessableEntity, "Please correct the highlighted fields."
	}
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "Something went wrong."
}

// Fail writes err as a JSON error body. Validation failures carry the
// per-field messages.
func Fail(c *gin.Context, err error) {
	status, message := StatusFor(err)
	body := gin.H{"error": message}
	if errs, ok := utils.AsValidationErrors(err); ok && len(errs) > 0 {
		body["fields"] = errs
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Malformed request body."})
}
