package management

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"sync"
	"testing"
	"time"
)

// fakeChannel is an in-memory Channel. Lines queued with push are
// returned by ReadLine; finish makes further reads fail with io.EOF.
// respond, when set, is called for every written line and may push
// replies, like a scripted engine.
type fakeChannel struct {
	lines  chan string
	closed chan struct{}

	closeOnce  sync.Once
	finishOnce sync.Once

	mu       sync.Mutex
	written  []string
	attempts int
	writeErr error
	respond  func(f *fakeChannel, line string)
}

func newFakeChannel(lines ...string) *fakeChannel {
	f := &fakeChannel{
		lines:  make(chan string, 64),
		closed: make(chan struct{}),
	}
	for _, l := range lines {
		f.lines <- l
	}
	return f
}

func (f *fakeChannel) push(lines ...string) {
	for _, l := range lines {
		f.lines <- l
	}
}

func (f *fakeChannel) finish() {
	f.finishOnce.Do(func() { close(f.lines) })
}

func (f *fakeChannel) ReadLine() (string, error) {
	select {
	case line, ok := <-f.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-f.closed:
		return "", errors.New("use of closed connection")
	}
}

func (f *fakeChannel) WriteLine(line string) error {
	f.mu.Lock()
	f.attempts++
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return err
	}
	f.written = append(f.written, line)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		respond(f, line)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeChannel) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

type gatewayRecorder struct {
	mu    sync.Mutex
	saved []netip.Addr
}

func (g *gatewayRecorder) Save(addr netip.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = append(g.saved, addr)
}

type dnsRecorder struct {
	mu    sync.Mutex
	saved [][]netip.Addr
}

func (d *dnsRecorder) Save(servers []netip.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saved = append(d.saved, servers)
}

type eventRecorder struct {
	mu       sync.Mutex
	statuses []Status
	samples  []TrafficSample
}

func (r *eventRecorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *eventRecorder) Samples() []TrafficSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrafficSample(nil), r.samples...)
}

func (r *eventRecorder) last(t *testing.T) Status {
	t.Helper()
	statuses := r.Statuses()
	if len(statuses) == 0 {
		t.Fatal("no status published")
	}
	return statuses[len(statuses)-1]
}

type testHarness struct {
	client   *Client
	channel  *fakeChannel
	events   *eventRecorder
	gateways *gatewayRecorder
	dns      *dnsRecorder
}

var testEndpoint = Endpoint{Address: "185.159.157.10", Port: 1194, Label: "CH#4"}

func newHarness(t *testing.T, ch *fakeChannel) *testHarness {
	t.Helper()
	h := &testHarness{
		channel:  ch,
		events:   &eventRecorder{},
		gateways: &gatewayRecorder{},
		dns:      &dnsRecorder{},
	}
	h.client = NewClient(ClientConfig{
		Gateways:   h.gateways,
		DNSServers: h.dns,
		Dial: func(ctx context.Context, port int, secret string) (Channel, error) {
			return ch, nil
		},
	})
	h.client.SetOnStatusChanged(func(s Status) {
		h.events.mu.Lock()
		h.events.statuses = append(h.events.statuses, s)
		h.events.mu.Unlock()
	})
	h.client.SetOnTrafficChanged(func(s TrafficSample) {
		h.events.mu.Lock()
		h.events.samples = append(h.events.samples, s)
		h.events.mu.Unlock()
	})
	if err := h.client.Connect(context.Background(), 7505, "mgmt-secret"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return h
}

// start runs a session in the background and returns a channel that
// yields its result.
func (h *testHarness) start(ctx context.Context, creds Credentials) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- h.client.StartSession(ctx, creds, testEndpoint)
	}()
	return done
}

// run runs a session to completion.
func (h *testHarness) run(t *testing.T, ctx context.Context, creds Credentials) {
	t.Helper()
	wait(t, h.start(ctx, creds))
}

func wait(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartSession() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}
