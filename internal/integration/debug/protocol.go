package debug

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Control message types exchanged with the launcher script.
const (
	MsgClientInit = "clientinit"
	MsgContinue   = "continue"
	MsgBreak      = "break"
	MsgFinish     = "finish"
	MsgBlock      = "block"
)

// Message is a decoded server-to-client control message.
type Message struct {
	Type string

	// Line is the halted source line of a break message.
	Line int

	// Cause is the opaque reason text of a block message.
	Cause string
}

// ParseBootstrap extracts the control port from the launcher's first
// stdout line, {"port": N}.
func ParseBootstrap(line string) (int, error) {
	line = strings.TrimSpace(line)
	if !gjson.Valid(line) {
		return 0, fmt.Errorf("%w: not JSON: %q", ErrBootstrap, line)
	}

	port := gjson.Get(line, "port")
	if port.Type != gjson.Number {
		return 0, fmt.Errorf("%w: no port in %q", ErrBootstrap, line)
	}

	n := port.Int()
	if float64(n) != port.Num || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("%w: invalid port %s", ErrBootstrap, port.Raw)
	}
	return int(n), nil
}

// ParseMessage decodes one control line.
func ParseMessage(line string) (Message, error) {
	if !gjson.Valid(line) {
		return Message{}, fmt.Errorf("%w: not JSON", ErrMalformedMessage)
	}

	fields := gjson.GetMany(line, "type", "linenumber", "cause")
	if fields[0].Type != gjson.String {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	msg := Message{Type: fields[0].String()}
	switch msg.Type {
	case MsgBreak:
		if fields[1].Type != gjson.Number {
			return Message{}, fmt.Errorf("%w: break without linenumber", ErrMalformedMessage)
		}
		msg.Line = int(fields[1].Int())
	case MsgBlock:
		msg.Cause = fields[2].String()
	}
	return msg, nil
}

// EncodeMessage builds a client-to-server control line without the
// trailing newline.
func EncodeMessage(msgType string) string {
	// The path is a literal, so Set cannot fail.
	out, _ := sjson.Set("", "type", msgType)
	return out
}
