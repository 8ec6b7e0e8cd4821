package imageio

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrEmptyPayload = errors.New("empty image payload")

// ParsePayload turns a request field into raw image bytes. The field may carry a data URL
// prefix (data:image/png;base64,...), embedded line breaks, and either padded or unpadded
// standard or URL-safe base64.
func ParsePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		parts := strings.SplitN(s, ",", 2)
		if len(parts) != 2 {
			return nil, &DecodeError{Stage: StageBase64, Bytes: len(s), Err: errors.New("data URL without payload")}
		}
		if !strings.HasSuffix(parts[0], ";base64") {
			return nil, &DecodeError{Stage: StageBase64, Bytes: len(s), Err: errors.New("data URL is not base64 encoded")}
		}
		s = parts[1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, &DecodeError{Stage: StageBase64, Err: ErrEmptyPayload}
	}

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			if len(data) == 0 {
				return nil, &DecodeError{Stage: StageBase64, Bytes: len(s), Err: ErrEmptyPayload}
			}
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, &DecodeError{Stage: StageBase64, Bytes: len(s), Err: firstErr}
}
