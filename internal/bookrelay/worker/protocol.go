package worker

import (
	"bufio"
	"io"
	"sync"

	"github.com/Masterminds/semver/v3"
	jsoniter "github.com/json-iterator/go"

	"github.com/bookrelay/bookrelay/internal/bookrelay/provider"
	"github.com/bookrelay/bookrelay/internal/bookrelay/relaycommon"
)

// ProtocolVersion is the version of the supervisor/worker line protocol.
const ProtocolVersion = "1.0.0"

// protocolConstraint accepts any peer with the same major version.
var protocolConstraint *semver.Constraints

func init() {
	var err error
	protocolConstraint, err = semver.NewConstraint("^" + ProtocolVersion)
	if err != nil {
		panic(err)
	}
}

// IsProtocolCompatible reports whether a peer speaking version can be talked to.
func IsProtocolCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return protocolConstraint.Check(v)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType tags every protocol line.
type MessageType string

const (
	MsgLaunch MessageType = "launch" // supervisor -> worker, first line
	MsgAnswer MessageType = "answer" // supervisor -> worker, second line
	MsgReady  MessageType = "ready"  // worker -> supervisor, waiting for the answer
	MsgResult MessageType = "result" // worker -> supervisor, last line
)

// Message is one line of the protocol. Fields are used according to Type.
type Message struct {
	Type      MessageType                 `json:"type"`
	Version   string                      `json:"version,omitempty"`
	SessionID string                      `json:"session_id,omitempty"`
	Request   *relaycommon.BookingRequest `json:"request,omitempty"`
	Answer    string                      `json:"answer,omitempty"`
	Status    provider.Status             `json:"status,omitempty"`
	Ticket    *relaycommon.Ticket         `json:"ticket,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

// resultMessage encodes a booking outcome.
func resultMessage(res *provider.Result, err error) Message {
	m := Message{Type: MsgResult, Status: provider.StatusFailed}
	if res != nil {
		m.Status = res.Status
		m.Ticket = res.Ticket
		m.Error = res.Reason
	}
	if err != nil {
		m.Status = provider.StatusFailed
		if m.Error == "" {
			m.Error = err.Error()
		}
	}
	return m
}

// result decodes a result message.
func (m Message) result() *provider.Result {
	return &provider.Result{Status: m.Status, Ticket: m.Ticket, Reason: m.Error}
}

const maxLineSize = 1 << 20

// encoder writes one JSON message per line. It is safe for concurrent use.
type encoder struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{enc: json.NewEncoder(w)}
}

func (e *encoder) Send(m Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(m)
}

// decoder reads one JSON message per line. Blank lines are skipped.
type decoder struct {
	sc *bufio.Scanner
}

func newDecoder(r io.Reader) *decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &decoder{sc: sc}
}

// Next returns the next message, io.EOF at end of stream, or ErrProtocol for a
// malformed line.
func (d *decoder) Next() (Message, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, ErrProtocol.MsgErr("malformed worker message", err)
		}
		if m.Type == "" {
			return Message{}, ErrProtocol.Msg("worker message without type")
		}
		return m, nil
	}
	if err := d.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
