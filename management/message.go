package management

import (
	"strconv"
	"strings"

	"github.com/yllada/vpnctl/common"
)

// Kind tags a classified management message.
type Kind int

const (
	// KindNone is an unrecognized line. It is dropped without effect.
	KindNone Kind = iota
	KindState
	KindByteCount
	KindError
	KindChannelClosed
	KindDisconnectAcknowledged
	KindUsernameRequested
	KindPasswordRequested
	KindControlText
	KindHoldWaiting
	KindEchoAcknowledged
	KindStateAcknowledged
	KindByteCountAcknowledged
	KindLogAcknowledged
)

var kindNames = [...]string{
	KindNone:                   "None",
	KindState:                  "State",
	KindByteCount:              "ByteCount",
	KindError:                  "Error",
	KindChannelClosed:          "ChannelClosed",
	KindDisconnectAcknowledged: "DisconnectAcknowledged",
	KindUsernameRequested:      "UsernameRequested",
	KindPasswordRequested:      "PasswordRequested",
	KindControlText:            "ControlText",
	KindHoldWaiting:            "HoldWaiting",
	KindEchoAcknowledged:       "EchoAcknowledged",
	KindStateAcknowledged:      "StateAcknowledged",
	KindByteCountAcknowledged:  "ByteCountAcknowledged",
	KindLogAcknowledged:        "LogAcknowledged",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// Notification prefixes and acknowledgement texts of the management
// interface.
const (
	prefixState        = ">STATE:"
	prefixByteCount    = ">BYTECOUNT:"
	prefixFatal        = ">FATAL:"
	prefixAuthVerify   = ">PASSWORD:Verification Failed"
	prefixNeedUserPass = ">PASSWORD:Need 'Auth' username/password"
	prefixNeedPass     = ">PASSWORD:Need 'Auth' password"
	prefixHold         = ">HOLD:Waiting for hold release"

	ackSignal    = "SUCCESS: signal SIGTERM thrown"
	ackUsername  = "SUCCESS: 'Auth' username entered, but not yet verified"
	ackEcho      = "SUCCESS: real-time echo notification set to ON"
	ackState     = "SUCCESS: real-time state notification set to ON"
	ackByteCount = "SUCCESS: bytecount interval changed"
	ackLog       = "SUCCESS: real-time log notification set to ON"

	controlMessageMarker = "PUSH: Received control message"
)

type rule struct {
	prefix string
	kind   Kind
}

// rules are checked in order; the first matching prefix wins.
var rules = []rule{
	{prefixState, KindState},
	{prefixByteCount, KindByteCount},
	{prefixFatal, KindError},
	{prefixAuthVerify, KindError},
	{ackSignal, KindDisconnectAcknowledged},
	{prefixNeedUserPass, KindUsernameRequested},
	{prefixNeedPass, KindPasswordRequested},
	{ackUsername, KindPasswordRequested},
	{prefixHold, KindHoldWaiting},
	{ackEcho, KindEchoAcknowledged},
	{ackState, KindStateAcknowledged},
	{ackByteCount, KindByteCountAcknowledged},
	{ackLog, KindLogAcknowledged},
}

// Message is one classified line received from the engine.
type Message struct {
	Kind Kind
	// Text is the raw line, without the line terminator.
	Text string
}

// Classify turns one raw line into a Message. Lines that match no known
// notification classify to KindNone.
func Classify(line string) Message {
	line = strings.TrimRight(line, "\r\n")
	for _, r := range rules {
		if strings.HasPrefix(line, r.prefix) {
			return Message{Kind: r.kind, Text: line}
		}
	}
	if strings.Contains(line, controlMessageMarker) {
		return Message{Kind: KindControlText, Text: line}
	}
	return Message{Kind: KindNone, Text: line}
}

// ChannelClosed is the sentinel message produced when the transport is
// closed or broken.
func ChannelClosed() Message {
	return Message{Kind: KindChannelClosed}
}

// State is the payload of a >STATE: notification.
type State struct {
	Name        string
	Description string
	Status      common.ConnectionStatus
	// HasStatus is false for state names we do not map.
	HasStatus bool
	Error     ErrorCode
	LocalIP   string
	RemoteIP  string
}

// HasError reports whether the state announces a failure.
func (s State) HasError() bool {
	return s.Error != ErrorNone
}

var stateStatuses = map[string]common.ConnectionStatus{
	"CONNECTING":   common.StatusConnecting,
	"WAIT":         common.StatusConnecting,
	"RESOLVE":      common.StatusConnecting,
	"TCP_CONNECT":  common.StatusConnecting,
	"AUTH":         common.StatusAuthenticating,
	"AUTH_PENDING": common.StatusAuthenticating,
	"GET_CONFIG":   common.StatusRetrievingConfiguration,
	"ASSIGN_IP":    common.StatusAssigningIP,
	"ADD_ROUTES":   common.StatusAssigningIP,
	"CONNECTED":    common.StatusConnected,
	"RECONNECTING": common.StatusReconnecting,
	"EXITING":      common.StatusDisconnecting,
}

// State parses the payload of a KindState message:
//
//	>STATE:<time>,<name>,<description>,<local ip>,<remote ip>,...
func (m Message) State() State {
	if m.Kind != KindState {
		return State{}
	}
	fields := strings.Split(strings.TrimPrefix(m.Text, prefixState), ",")
	field := func(i int) string {
		if i < len(fields) {
			return strings.TrimSpace(fields[i])
		}
		return ""
	}

	st := State{
		Name:        field(1),
		Description: field(2),
		LocalIP:     field(3),
		RemoteIP:    field(4),
	}
	st.Status, st.HasStatus = stateStatuses[st.Name]
	st.Error = stateError(st.Name, st.Description)
	return st
}

// Bandwidth parses the running byte counters of a KindByteCount message:
//
//	>BYTECOUNT:<bytes in>,<bytes out>
func (m Message) Bandwidth() (in, out uint64, ok bool) {
	if m.Kind != KindByteCount {
		return 0, 0, false
	}
	inText, outText, found := strings.Cut(strings.TrimPrefix(m.Text, prefixByteCount), ",")
	if !found {
		return 0, 0, false
	}
	in, err := strconv.ParseUint(strings.TrimSpace(inText), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	out, err = strconv.ParseUint(strings.TrimSpace(outText), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return in, out, true
}

// ErrorCode maps a KindError message to a normalized error code.
func (m Message) ErrorCode() ErrorCode {
	switch {
	case m.Kind != KindError:
		return ErrorNone
	case strings.HasPrefix(m.Text, prefixAuthVerify):
		return ErrorAuthFailed
	default:
		return fatalError(strings.TrimPrefix(m.Text, prefixFatal))
	}
}
