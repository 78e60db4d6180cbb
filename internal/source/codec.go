package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/shelfd/internal/pointer"
)

// The line protocol spoken by serial bridges and stored in replay fixtures:
//
//	P <x> <y> <timestamp_ms> <button 0|1>
//	DS <json items>
//	DG <json items>
//	DE
//	ERR <code> <message>
//
// Blank lines and lines starting with '#' are ignored.
const (
	TokenPosition  = "P"
	TokenDragStart = "DS"
	TokenDragging  = "DG"
	TokenDragEnd   = "DE"
	TokenError     = "ERR"
)

// ErrSkipLine is returned for blank and comment lines.
var ErrSkipLine = errors.New("skip line")

// MessageType identifies a decoded line.
type MessageType int

const (
	MsgPosition MessageType = iota
	MsgDragStart
	MsgDragging
	MsgDragEnd
	MsgError
)

// Message is one decoded protocol line.
type Message struct {
	Type   MessageType
	Sample pointer.Sample
	Items  []pointer.Item
	Code   Code
	Text   string
}

// ParseLine decodes one protocol line.
func ParseLine(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Message{}, ErrSkipLine
	}
	token, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch token {
	case TokenPosition:
		fields := strings.Fields(rest)
		if len(fields) != 4 {
			return Message{}, fmt.Errorf("position line needs 4 fields, got %d: %q", len(fields), line)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Message{}, fmt.Errorf("invalid x %q: %w", fields[0], err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Message{}, fmt.Errorf("invalid y %q: %w", fields[1], err)
		}
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Message{}, fmt.Errorf("invalid timestamp %q: %w", fields[2], err)
		}
		return Message{Type: MsgPosition, Sample: pointer.Sample{
			X: x, Y: y, TimestampMs: ts, LeftButtonDown: fields[3] == "1",
		}}, nil

	case TokenDragStart, TokenDragging:
		var items []pointer.Item
		if rest != "" {
			if err := json.Unmarshal([]byte(rest), &items); err != nil {
				return Message{}, fmt.Errorf("invalid %s items: %w", token, err)
			}
		}
		for i := range items {
			if items[i].Kind == "" {
				items[i].Kind = pointer.KindFile
			}
		}
		t := MsgDragStart
		if token == TokenDragging {
			t = MsgDragging
		}
		return Message{Type: t, Items: items}, nil

	case TokenDragEnd:
		return Message{Type: MsgDragEnd}, nil

	case TokenError:
		codeStr, text, _ := strings.Cut(rest, " ")
		code, err := strconv.Atoi(codeStr)
		if err != nil {
			return Message{}, fmt.Errorf("invalid error code %q: %w", codeStr, err)
		}
		return Message{Type: MsgError, Code: Code(code), Text: strings.TrimSpace(text)}, nil
	}
	return Message{}, fmt.Errorf("unknown token %q", token)
}

// FormatMessage encodes m as a protocol line without a trailing newline.
func FormatMessage(m Message) string {
	switch m.Type {
	case MsgPosition:
		btn := "0"
		if m.Sample.LeftButtonDown {
			btn = "1"
		}
		return fmt.Sprintf("%s %s %s %d %s", TokenPosition,
			strconv.FormatFloat(m.Sample.X, 'f', -1, 64),
			strconv.FormatFloat(m.Sample.Y, 'f', -1, 64),
			m.Sample.TimestampMs, btn)
	case MsgDragStart, MsgDragging:
		token := TokenDragStart
		if m.Type == MsgDragging {
			token = TokenDragging
		}
		data, _ := json.Marshal(m.Items)
		return token + " " + string(data)
	case MsgDragEnd:
		return TokenDragEnd
	case MsgError:
		return fmt.Sprintf("%s %d %s", TokenError, int(m.Code), m.Text)
	}
	return ""
}

// Deliver hands a decoded message to sink.
func Deliver(m Message, sink Sink, name string) {
	switch m.Type {
	case MsgPosition:
		sink.OnPosition(m.Sample)
	case MsgDragStart:
		sink.OnDragStart(m.Items)
	case MsgDragging:
		sink.OnDragging(m.Items)
	case MsgDragEnd:
		sink.OnDragEnd()
	case MsgError:
		sink.OnError(&Error{Code: m.Code, Source: name, Detail: m.Text})
	}
}
