package imageio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingInput is a request without one of its image fields.
	ErrMissingInput = errors.New("missing image data")
	// ErrTooLarge rejects an image whose header announces more pixels than the chain accepts.
	ErrTooLarge = errors.New("image too large")
)

const (
	StageBase64 = "base64"
	StageImage  = "image"
)

// Attempt records one decoder's failure.
type Attempt struct {
	Decoder string
	Err     error
}

// DecodeError reports a payload that could not be turned into pixels. It is always a client
// error: the caller sent bytes nothing could read.
type DecodeError struct {
	Field    string
	Stage    string
	Bytes    int
	Attempts []Attempt
	Err      error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	switch {
	case e.Stage == StageBase64:
		fmt.Fprintf(&b, "invalid base64 payload (%d bytes)", e.Bytes)
	case errors.Is(e.Err, ErrTooLarge):
		fmt.Fprintf(&b, "image rejected (%d bytes)", e.Bytes)
	default:
		fmt.Fprintf(&b, "unsupported or corrupt image (%d bytes)", e.Bytes)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(" [")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Decoder, a.Err)
		if i == len(e.Attempts)-1 {
			b.WriteString("]")
		}
	}
	return b.String()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
