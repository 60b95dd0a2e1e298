package frame

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"safevision/internal/dao"
)

// Input is what a client pushes: either LegacyBytes or a Message.
type Input interface {
	payload() []byte
}

// LegacyBytes is a bare image payload with no metadata.
type LegacyBytes []byte

func (b LegacyBytes) payload() []byte { return b }

// Message is an image payload with client metadata.
type Message struct {
	Frame     []byte
	Timestamp *float64
	FrameID   *string
	Quality   *float64
}

func (m *Message) payload() []byte { return m.Frame }

// ParseInput decides once, at the transport boundary, which variant raw is.
// Binary messages are always legacy payloads. Text messages are either a JSON
// object carrying a "frame" field or a bare base64/data URL string.
func ParseInput(raw []byte, binary bool) (Input, error) {
	if binary {
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
		}
		return LegacyBytes(raw), nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var in dao.InboundFrame
		if err := json.Unmarshal(trimmed, &in); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		data, err := DecodeDataURL(in.Frame)
		if err != nil {
			return nil, err
		}
		return &Message{
			Frame:     data,
			Timestamp: in.Timestamp,
			FrameID:   in.FrameId,
			Quality:   in.Quality,
		}, nil
	}

	data, err := DecodeDataURL(string(trimmed))
	if err != nil {
		return nil, err
	}
	return LegacyBytes(data), nil
}

// DecodeDataURL strips an optional "data:<mime>;base64," prefix and decodes
// the remaining base64 text.
func DecodeDataURL(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidFrame)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return data, nil
}

// EncodeDataURL is the inverse of DecodeDataURL for outbound frames.
func EncodeDataURL(format string, data []byte) string {
	return "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Validator checks that a payload decodes as an image and reports its format.
type Validator func(payload []byte) (format string, err error)

// NewEnvelope turns an already validated input into an envelope.
func NewEnvelope(sessionID string, in Input, format string) *Envelope {
	env := &Envelope{
		SessionID: sessionID,
		Payload:   in.payload(),
		Format:    format,
	}
	if m, ok := in.(*Message); ok {
		env.Timestamp = m.Timestamp
		env.FrameID = m.FrameID
		env.QualityHint = m.Quality
	}
	return env
}

// Payload exposes the raw image bytes of any input variant.
func Payload(in Input) []byte {
	return in.payload()
}
