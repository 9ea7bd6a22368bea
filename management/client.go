package management

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yllada/vpnctl/common"
)

// GatewayCache receives the gateway pushed by the server.
type GatewayCache interface {
	// Save replaces the last known gateway.
	Save(addr netip.Addr)
}

// DNSServerCache receives the DNS servers pushed by the server.
type DNSServerCache interface {
	// Save replaces the last known DNS server list as a whole.
	Save(servers []netip.Addr)
}

// ClientConfig holds the collaborators of a Client.
type ClientConfig struct {
	// Logger is the diagnostic sink. It is only written to.
	Logger common.Logger
	// Gateways and DNSServers receive network settings found in pushed
	// control messages.
	Gateways   GatewayCache
	DNSServers DNSServerCache
	// Dial opens the transport. Defaults to DialTCP.
	Dial DialFunc
	// ByteCountInterval is the traffic sampling period in seconds.
	ByteCountInterval int
}

// Client drives sessions over the management interface of one engine.
// It is created once and reused across connect/disconnect cycles.
type Client struct {
	logger            common.Logger
	gateways          GatewayCache
	dnsServers        DNSServerCache
	dial              DialFunc
	byteCountInterval int

	chMu    sync.Mutex
	channel Channel

	running             atomic.Bool
	disconnectRequested atomic.Bool
	disconnectAccepted  atomic.Bool
	sendFailed          atomic.Bool

	// Session state, owned by the StartSession goroutine.
	sessionID   string
	lastError   ErrorCode
	credentials Credentials
	endpoint    Endpoint
	totalIn     uint64
	totalOut    uint64
	haveTotals  bool

	status  feed[Status]
	traffic feed[TrafficSample]
}

// NewClient creates a Client. Missing collaborators are replaced by
// no-op implementations.
func NewClient(config ClientConfig) *Client {
	c := &Client{
		logger:            config.Logger,
		gateways:          config.Gateways,
		dnsServers:        config.DNSServers,
		dial:              config.Dial,
		byteCountInterval: config.ByteCountInterval,
	}
	if c.logger == nil {
		c.logger = common.NopLogger{}
	}
	if c.gateways == nil {
		c.gateways = discardGateway{}
	}
	if c.dnsServers == nil {
		c.dnsServers = discardDNS{}
	}
	if c.dial == nil {
		c.dial = DialTCP
	}
	if c.byteCountInterval < 1 {
		c.byteCountInterval = 1
	}
	return c
}

// SetOnStatusChanged registers a handler called synchronously on the
// session goroutine for every published Status. Handlers must not block.
func (c *Client) SetOnStatusChanged(handler func(Status)) {
	c.status.setHandler(handler)
}

// SetOnTrafficChanged registers a handler called synchronously on the
// session goroutine for every TrafficSample. Handlers must not block.
func (c *Client) SetOnTrafficChanged(handler func(TrafficSample)) {
	c.traffic.setHandler(handler)
}

// SubscribeStatus returns a channel receiving every published Status and
// a function that ends the subscription. When the subscriber falls more
// than buffer values behind, the oldest values are dropped.
func (c *Client) SubscribeStatus(buffer int) (<-chan Status, func()) {
	return c.status.subscribe(buffer)
}

// SubscribeTraffic is SubscribeStatus for traffic samples.
func (c *Client) SubscribeTraffic(buffer int) (<-chan TrafficSample, func()) {
	return c.traffic.subscribe(buffer)
}

// Connect opens the management channel on the loopback port.
func (c *Client) Connect(ctx context.Context, port int, secret string) error {
	if c.running.Load() {
		return common.ErrSessionActive
	}
	ch, err := c.dial(ctx, port, secret)
	if err != nil {
		return err
	}

	// A disconnect request belongs to the channel it was made on.
	c.disconnectRequested.Store(false)
	c.disconnectAccepted.Store(false)

	c.chMu.Lock()
	previous := c.channel
	c.channel = ch
	c.chMu.Unlock()

	if previous != nil {
		previous.Close()
	}
	c.logger.Debug("Management channel open on port %d", port)
	return nil
}

// StartSession runs one session until the channel closes, a command can't
// be sent, or ctx is cancelled. Every exit publishes a final
// Disconnecting status. Cancellation is only observed between lines: to
// stop a session blocked in a read, call Shutdown.
func (c *Client) StartSession(ctx context.Context, credentials Credentials, endpoint Endpoint) error {
	if !c.running.CompareAndSwap(false, true) {
		return common.ErrSessionActive
	}
	defer c.running.Store(false)

	c.reset(credentials, endpoint)

	ch := c.currentChannel()
	if ch == nil {
		c.logger.Warn("Session %s for %s has no management channel", c.sessionID, endpoint.Label)
		c.publishStatus(common.StatusDisconnecting)
		return common.ErrNotConnected
	}
	c.logger.Info("Session %s started for %s", c.sessionID, endpoint.Label)
	if c.disconnectRequested.Load() {
		c.logger.Info("Session %s: disconnect already requested", c.sessionID)
		c.send(ch, Disconnect())
	}

	for ctx.Err() == nil && !c.sendFailed.Load() {
		msg := c.receive(ch)
		if msg.Kind == KindChannelClosed {
			if !c.disconnectRequested.Load() && c.lastError == ErrorNone {
				c.lastError = ErrorUnknown
			}
			c.logger.Info("Session %s: management channel closed", c.sessionID)
			c.publishStatus(common.StatusDisconnecting)
			return nil
		}

		if ctx.Err() == nil {
			c.handle(ch, msg)
		}
	}

	if !c.sendFailed.Load() {
		c.send(ch, Exit())
	}
	c.logger.Info("Session %s ended (cancelled: %v, send failed: %v)",
		c.sessionID, ctx.Err() != nil, c.sendFailed.Load())
	c.publishStatus(common.StatusDisconnecting)
	return nil
}

// RequestDisconnect asks the engine to tear the tunnel down. It may be
// called from any goroutine; the session keeps repeating the request
// until the engine acknowledges it. A request made on an open channel
// before its session starts is carried into that session, so no
// credentials are sent on it.
func (c *Client) RequestDisconnect() {
	c.disconnectRequested.Store(true)
	if !c.running.Load() {
		return
	}
	ch := c.currentChannel()
	if ch == nil {
		return
	}
	c.send(ch, Disconnect())
}

// Shutdown closes the management channel. It is safe to call at any
// time; a running session observes the closed channel and ends.
func (c *Client) Shutdown() {
	c.chMu.Lock()
	ch := c.channel
	c.channel = nil
	c.chMu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Debug("Closing management channel: %v", err)
		}
	}
}

func (c *Client) currentChannel() Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.channel
}

func (c *Client) reset(credentials Credentials, endpoint Endpoint) {
	c.sessionID = uuid.NewString()
	c.lastError = ErrorNone
	c.credentials = credentials
	c.endpoint = endpoint
	c.totalIn, c.totalOut, c.haveTotals = 0, 0, false
	c.sendFailed.Store(false)
}

func (c *Client) receive(ch Channel) Message {
	line, err := ch.ReadLine()
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, common.ErrChannelClosed) {
			c.logger.Warn("Failed to read message from management interface: %v", err)
		}
		return ChannelClosed()
	}
	return Classify(line)
}

func (c *Client) handle(ch Channel, msg Message) {
	switch msg.Kind {
	case KindState:
		c.handleState(ch, msg)
		return
	case KindByteCount:
		c.handleByteCount(msg)
		return
	case KindError:
		c.recordError(msg.ErrorCode())
		return
	case KindDisconnectAcknowledged:
		c.publishStatus(common.StatusDisconnecting)
		c.disconnectAccepted.Store(true)
		return
	case KindUsernameRequested, KindPasswordRequested:
		c.handleCredentialRequest(ch, msg.Kind)
		return
	case KindControlText:
		c.handleControlText(msg.Text)
		return
	}

	if c.disconnectRequested.Load() && !c.disconnectAccepted.Load() {
		c.send(ch, Disconnect())
		return
	}

	switch msg.Kind {
	case KindHoldWaiting:
		c.send(ch, EchoOn())
	case KindEchoAcknowledged:
		c.send(ch, StateOn())
	case KindStateAcknowledged:
		c.send(ch, ByteCountOn(c.byteCountInterval))
	case KindByteCountAcknowledged:
		c.send(ch, LogOn())
	case KindLogAcknowledged:
		c.send(ch, HoldRelease())
	}
}

func (c *Client) handleState(ch Channel, msg Message) {
	state := msg.State()
	if state.HasError() {
		c.send(ch, Disconnect())
		c.recordError(state.Error)
		return
	}
	if !state.HasStatus {
		return
	}
	c.status.publish(Status{
		Status:   state.Status,
		Error:    c.lastError,
		LocalIP:  state.LocalIP,
		RemoteIP: state.RemoteIP,
		Port:     c.endpoint.Port,
		Label:    c.endpoint.Label,
	})
}

func (c *Client) handleByteCount(msg Message) {
	in, out, ok := msg.Bandwidth()
	if !ok {
		c.logger.Debug("Ignoring malformed byte count %q", msg.Text)
		return
	}

	sample := TrafficSample{TotalIn: in, TotalOut: out, BytesIn: in, BytesOut: out}
	// Counters restart from zero when the engine reconnects.
	if c.haveTotals && in >= c.totalIn && out >= c.totalOut {
		sample.BytesIn = in - c.totalIn
		sample.BytesOut = out - c.totalOut
	}
	c.totalIn, c.totalOut, c.haveTotals = in, out, true
	c.traffic.publish(sample)
}

// Once a disconnect has been requested credentials are never sent again.
func (c *Client) handleCredentialRequest(ch Channel, kind Kind) {
	if c.disconnectRequested.Load() {
		if !c.disconnectAccepted.Load() {
			c.send(ch, Disconnect())
		}
		return
	}
	if kind == KindUsernameRequested {
		c.send(ch, Username(c.credentials.Username))
		return
	}
	c.send(ch, Password(c.credentials.Password))
}

func (c *Client) handleControlText(text string) {
	if gateway, ok := ExtractGateway(text); ok {
		c.logger.Debug("Session %s: pushed gateway %s", c.sessionID, gateway)
		c.gateways.Save(gateway)
	}
	servers := ExtractDNSServers(text)
	c.logger.Debug("Session %s: pushed DNS servers %v", c.sessionID, servers)
	c.dnsServers.Save(servers)
}

// recordError keeps the first error of the session.
func (c *Client) recordError(code ErrorCode) {
	if code == ErrorNone || c.lastError != ErrorNone {
		return
	}
	c.logger.Warn("Session %s: engine reported %s", c.sessionID, code)
	c.lastError = code
}

func (c *Client) send(ch Channel, cmd Command) {
	if c.sendFailed.Load() {
		return
	}
	if err := ch.WriteLine(cmd.Line); err != nil {
		c.sendFailed.Store(true)
		c.logger.Warn("Sending %q to management interface failed: %v", cmd.LogText, err)
		return
	}
	c.logger.Debug("Sent %q", cmd.LogText)
}

func (c *Client) publishStatus(status common.ConnectionStatus) {
	c.status.publish(Status{
		Status:   status,
		Error:    c.lastError,
		RemoteIP: c.endpoint.Address,
		Port:     c.endpoint.Port,
		Label:    c.endpoint.Label,
	})
}

type discardGateway struct{}

func (discardGateway) Save(netip.Addr) {}

type discardDNS struct{}

func (discardDNS) Save([]netip.Addr) {}
