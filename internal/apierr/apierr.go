package apierr

import "fmt"

// Codes surfaced to clients. Auth-class failures require the user to pick a
// new credential; everything else is retry-by-hand.
const (
	CodeAuthEntitlement  = "auth_entitlement"
	CodeBusy             = "busy"
	CodeNoImage          = "no_image_produced"
	CodeEditFailed       = "edit_failed"
	CodeVideoFailed      = "video_failed"
	CodeAudioFailed      = "audio_failed"
	CodeStoreUnavailable = "store_unavailable"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}
