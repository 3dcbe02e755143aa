package apperr

import "errors"

// Error taxonomy shared by the call engine and instant admission.
// Services wrap these with fmt.Errorf("%w: ...") for context; callers match with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")

	// Admission-specific rejections.
	ErrTargetOffline   = errors.New("target offline")
	ErrTargetBusy      = errors.New("target busy")
	ErrRequesterBusy   = errors.New("requester busy")
	ErrRequestRequired = errors.New("request required")
)

// Wire codes. Keep stable; clients switch on them.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeConflict        = "CONFLICT"
	CodeTargetOffline   = "TARGET_OFFLINE"
	CodeTargetBusy      = "TARGET_BUSY"
	CodeRequesterBusy   = "REQUESTER_BUSY"
	CodeRequestRequired = "REQUEST_REQUIRED"
	CodeInternal        = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrConflict, CodeConflict},
	{ErrTargetOffline, CodeTargetOffline},
	{ErrTargetBusy, CodeTargetBusy},
	{ErrRequesterBusy, CodeRequesterBusy},
	{ErrRequestRequired, CodeRequestRequired},
}

// Code returns the wire code for err, or CodeInternal if err is not part of the taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
