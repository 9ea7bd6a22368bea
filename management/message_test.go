package management

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yllada/vpnctl/common"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{">STATE:1700000000,CONNECTED,SUCCESS,10.8.0.2,1.2.3.4,,", KindState},
		{">BYTECOUNT:100,200", KindByteCount},
		{">FATAL:Cannot open TUN/TAP dev", KindError},
		{">PASSWORD:Verification Failed: 'Auth'", KindError},
		{"SUCCESS: signal SIGTERM thrown", KindDisconnectAcknowledged},
		{">PASSWORD:Need 'Auth' username/password", KindUsernameRequested},
		{">PASSWORD:Need 'Auth' password", KindPasswordRequested},
		{"SUCCESS: 'Auth' username entered, but not yet verified", KindPasswordRequested},
		{">HOLD:Waiting for hold release:0", KindHoldWaiting},
		{"SUCCESS: real-time echo notification set to ON", KindEchoAcknowledged},
		{"SUCCESS: real-time state notification set to ON", KindStateAcknowledged},
		{"SUCCESS: bytecount interval changed", KindByteCountAcknowledged},
		{"SUCCESS: real-time log notification set to ON", KindLogAcknowledged},
		{">LOG:1700000000,,PUSH: Received control message: 'PUSH_REPLY,route-gateway 10.8.0.1'", KindControlText},
		{">LOG:1700000000,I,Initialization Sequence Completed", KindNone},
		{"SUCCESS: hold release succeeded", KindNone},
		{"", KindNone},
		{"  >STATE:1,CONNECTED", KindNone},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := Classify(tt.line)
			if got.Kind != tt.want {
				t.Errorf("Classify(%q).Kind = %v, want %v", tt.line, got.Kind, tt.want)
			}
		})
	}
}

func TestClassify_StripsTerminator(t *testing.T) {
	got := Classify(">BYTECOUNT:1,2\r\n")
	if got.Kind != KindByteCount || got.Text != ">BYTECOUNT:1,2" {
		t.Errorf("Classify() = %+v", got)
	}
}

func TestClassify_FirstRuleWins(t *testing.T) {
	// A state line mentioning a control message is still a state.
	line := ">STATE:1,CONNECTED,PUSH: Received control message,,"
	if got := Classify(line).Kind; got != KindState {
		t.Errorf("Classify(%q).Kind = %v, want %v", line, got, KindState)
	}
}

func TestMessage_State(t *testing.T) {
	tests := []struct {
		name string
		line string
		want State
	}{
		{
			name: "connected",
			line: ">STATE:1700000000,CONNECTED,SUCCESS,10.8.0.2,1.2.3.4,1194,,",
			want: State{
				Name:        "CONNECTED",
				Description: "SUCCESS",
				Status:      common.StatusConnected,
				HasStatus:   true,
				LocalIP:     "10.8.0.2",
				RemoteIP:    "1.2.3.4",
			},
		},
		{
			name: "auth failure while exiting",
			line: ">STATE:1700000000,EXITING,auth-failure,,",
			want: State{
				Name:        "EXITING",
				Description: "auth-failure",
				Status:      common.StatusDisconnecting,
				HasStatus:   true,
				Error:       ErrorAuthFailed,
			},
		},
		{
			name: "tls error while reconnecting",
			line: ">STATE:1700000000,RECONNECTING,tls-error,,",
			want: State{
				Name:        "RECONNECTING",
				Description: "tls-error",
				Status:      common.StatusReconnecting,
				HasStatus:   true,
				Error:       ErrorTLS,
			},
		},
		{
			name: "auth failure on another state is not an error",
			line: ">STATE:1700000000,AUTH,auth-failure,,",
			want: State{
				Name:        "AUTH",
				Description: "auth-failure",
				Status:      common.StatusAuthenticating,
				HasStatus:   true,
			},
		},
		{
			name: "unmapped state",
			line: ">STATE:1700000000,SLEEP,,,",
			want: State{Name: "SLEEP"},
		},
		{
			name: "truncated",
			line: ">STATE:1700000000",
			want: State{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.line).State()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("State() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStateMapping(t *testing.T) {
	want := map[string]common.ConnectionStatus{
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
	for name, status := range want {
		st := Classify(">STATE:0," + name + ",,,").State()
		if !st.HasStatus || st.Status != status {
			t.Errorf("state %s = %v (mapped %v), want %v", name, st.Status, st.HasStatus, status)
		}
	}
}

func TestMessage_Bandwidth(t *testing.T) {
	tests := []struct {
		line    string
		in, out uint64
		ok      bool
	}{
		{">BYTECOUNT:100,200", 100, 200, true},
		{">BYTECOUNT: 7 , 8", 7, 8, true},
		{">BYTECOUNT:18446744073709551615,0", 18446744073709551615, 0, true},
		{">BYTECOUNT:100", 0, 0, false},
		{">BYTECOUNT:-1,2", 0, 0, false},
		{">BYTECOUNT:a,b", 0, 0, false},
		{">STATE:100,200", 0, 0, false},
	}
	for _, tt := range tests {
		in, out, ok := Classify(tt.line).Bandwidth()
		if in != tt.in || out != tt.out || ok != tt.ok {
			t.Errorf("Bandwidth(%q) = %d, %d, %v, want %d, %d, %v", tt.line, in, out, ok, tt.in, tt.out, tt.ok)
		}
	}
}

func TestMessage_ErrorCode(t *testing.T) {
	tests := []struct {
		line string
		want ErrorCode
	}{
		{">PASSWORD:Verification Failed: 'Auth'", ErrorAuthFailed},
		{">FATAL:Cannot open TUN/TAP dev /dev/net/tun: No such file or directory", ErrorTunDevice},
		{">FATAL:ERROR: Cannot ioctl TUNSETIFF tun: Operation not permitted", ErrorTunDevice},
		{">FATAL:RESOLVE: Cannot resolve host address: vpn.example.net", ErrorHostUnresolved},
		{">FATAL:something else", ErrorUnknown},
		{">BYTECOUNT:1,2", ErrorNone},
	}
	for _, tt := range tests {
		if got := Classify(tt.line).ErrorCode(); got != tt.want {
			t.Errorf("ErrorCode(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestKind_String(t *testing.T) {
	if got := KindControlText.String(); got != "ControlText" {
		t.Errorf("String() = %q, want %q", got, "ControlText")
	}
	if got := Kind(99).String(); got != "Kind(99)" {
		t.Errorf("String() = %q, want %q", got, "Kind(99)")
	}
}

func TestStatus_String(t *testing.T) {
	s := Status{Status: common.StatusDisconnecting, Error: ErrorAuthFailed}
	if got, want := s.String(), "Disconnecting... (Authentication failed)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCredentials_Redacted(t *testing.T) {
	c := Credentials{Username: "alice", Password: "hunter2"}
	for _, s := range []string{c.String(), c.GoString()} {
		if s != "{alice ***}" {
			t.Errorf("credentials formatted as %q", s)
		}
	}
}
