package session

import (
	"context"
	"errors"
	"fmt"

	"manga-dissector/src/llm"
	"manga-dissector/src/screenshot"
)

// ErrorKind groups failures by how they are reported to the user.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindCapture
	KindCredentialMissing
	KindTransport
	KindRemote
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindCapture:
		return "capture"
	case KindCredentialMissing:
		return "credential-missing"
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

func Classify(err error) ErrorKind {
	var (
		te *llm.TransportError
		re *llm.RemoteError
		me *llm.MalformedError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, llm.ErrCredentialMissing):
		return KindCredentialMissing
	case errors.As(err, &re):
		return KindRemote
	case errors.As(err, &me):
		return KindMalformed
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, screenshot.ErrNoData):
		return KindCapture
	}
	return KindUnknown
}

// UserMessage is the text shown in the tooltip for a failed cycle. Remote
// messages are shown verbatim.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindTransport:
		if errors.Is(err, context.DeadlineExceeded) {
			return "Request timed out"
		}
		return fmt.Sprintf("Network error: %v", err)
	case KindUnknown:
		if err == nil {
			return "Unknown error"
		}
	}
	return err.Error()
}

func captureMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Capture cancelled"
	case errors.Is(err, ErrBusy):
		return ErrBusy.Error()
	case errors.Is(err, screenshot.ErrNoData):
		return screenshot.ErrNoData.Error()
	}
	return "Failed to capture region: " + err.Error()
}
