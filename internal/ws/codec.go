package ws

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/remote-agent-terminal/ptybridge/internal/pty"
)

// FrameKind tags a decoded inbound message.
type FrameKind int

const (
	// FrameRaw is an unframed payload, written to the process verbatim.
	FrameRaw FrameKind = iota
	// FrameInput carries keystrokes.
	FrameInput
	// FrameResize carries a terminal size.
	FrameResize
)

func (k FrameKind) String() string {
	switch k {
	case FrameInput:
		return "input"
	case FrameResize:
		return "resize"
	default:
		return "raw"
	}
}

// Frame is one decoded inbound message.
type Frame struct {
	Kind FrameKind
	Data []byte
	Cols uint16
	Rows uint16
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	Cols json.RawMessage `json:"cols"`
	Rows json.RawMessage `json:"rows"`
}

// Decode parses an inbound payload. It never fails: anything that is not
// a well-formed input or resize record becomes a raw frame holding the
// payload unchanged.
func Decode(payload []byte) Frame {
	raw := Frame{Kind: FrameRaw, Data: payload}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return raw
	}

	switch env.Type {
	case "input":
		var data string
		if len(env.Data) == 0 || string(env.Data) == "null" || json.Unmarshal(env.Data, &data) != nil {
			return raw
		}
		return Frame{Kind: FrameInput, Data: []byte(data)}
	case "resize":
		return Frame{
			Kind: FrameResize,
			Cols: dimension(env.Cols, pty.DefaultCols),
			Rows: dimension(env.Rows, pty.DefaultRows),
		}
	default:
		return raw
	}
}

// dimension reads a positive cell count from a JSON number or numeric
// string, truncating fractions. Anything else yields def.
func dimension(raw json.RawMessage, def uint16) uint16 {
	if len(raw) == 0 {
		return def
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return def
		}
		n, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return def
		}
	}

	n = math.Trunc(n)
	if math.IsNaN(n) || n < 1 || n > math.MaxUint16 {
		return def
	}
	return uint16(n)
}

// Encode frames outbound process output. Output travels unmodified.
func Encode(data []byte) []byte {
	return data
}
