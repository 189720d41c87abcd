// Package connection owns a single TCP socket to a PLC endpoint: ENIP
// RegisterSession, CIP Forward Open/Close, and one-at-a-time CIP
// request/response exchanges over it.
package connection

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bifrost-industrial/cip-gateway/internal/cip"
	"github.com/bifrost-industrial/cip-gateway/internal/enip"
	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
)

// Options configures the dial, read, and write timeouts of a
// Connection (Forward Open parameters are passed to Connect as
// ForwardOpenParams). Zero-value fields are replaced with sane
// defaults by New.
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns the Options this client uses unless the
// caller overrides them.
func DefaultOptions() Options {
	return Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Identity is the device's Identity Object data, read back
// opportunistically after Forward Open succeeds (spec.md SUPPLEMENTED
// FEATURES).
type Identity struct {
	VendorID     uint16
	VendorName   string
	DeviceType   uint16
	ProductCode  uint16
	Revision     uint16
	SerialNumber uint32
	ProductName  string
}

// ForwardOpenParams are the connection parameters requested when
// opening a Class 3 explicit-messaging connection.
type ForwardOpenParams struct {
	RPI                   time.Duration
	PriorityTimeTick      uint8
	TimeoutTicks          uint8
	OriginatorVendorID    uint16
	OriginatorSerial      uint32
	TransportClassTrigger uint8
}

// DefaultForwardOpenParams returns the Class 3 explicit-messaging
// defaults described in spec.md §4.2.
func DefaultForwardOpenParams() ForwardOpenParams {
	return ForwardOpenParams{
		RPI:                   10 * time.Millisecond,
		PriorityTimeTick:      0x03,
		TimeoutTicks:          0xFA,
		OriginatorVendorID:    0x1337,
		TransportClassTrigger: cip.TransportClassTriggerClass3Server,
	}
}

// Connection owns one TCP socket to a PLC endpoint and the ENIP/CIP
// session state layered on top of it. Exactly one exchange is in
// flight at a time, enforced by mu.
type Connection struct {
	logger   *zap.Logger
	endpoint Endpoint
	opts     Options

	mu    sync.Mutex
	conn  net.Conn
	state State

	sessionHandle uint32
	oToTConnID    uint32
	tToOConnID    uint32
	connSerial    uint16
	seqCount      uint16

	lastActivity time.Time
	identity     *Identity
}

// New creates a Connection in state Closed; it is not dialed until
// Open is called.
func New(logger *zap.Logger, endpoint Endpoint, opts Options) *Connection {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultOptions().DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultOptions().ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	return &Connection{
		logger:   logger,
		endpoint: endpoint.WithDefaultPort(),
		opts:     opts,
		state:    StateClosed,
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkBroken transitions the connection to StateBroken so the pool
// discards rather than reuses it.
func (c *Connection) MarkBroken() {
	c.mu.Lock()
	c.state = StateBroken
	c.mu.Unlock()
}

// LastActivity returns the timestamp of the most recent successful
// exchange.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Identity returns the device identity read back during Connect, or
// nil if it was never obtained.
func (c *Connection) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Open dials the TCP endpoint and performs ENIP RegisterSession.
// Transitions StateClosed -> StateRegistered.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateClosed {
		return plcerr.New(plcerr.KindTransport, "connection.Open", "connection is not in Closed state")
	}

	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.endpoint.String())
	if err != nil {
		return plcerr.Wrap(plcerr.KindTransport, "connection.Open", "dial failed", err)
	}
	c.conn = conn

	data := enip.RegisterSessionData{ProtocolVersion: 1, OptionFlags: 0}.Encode()
	respHeader, _, err := c.exchangeLocked(ctx, enip.CommandRegisterSession, 0, data)
	if err != nil {
		c.failLocked()
		return err
	}
	if respHeader.Status != 0 {
		c.failLocked()
		return plcerr.New(plcerr.KindRegisterFailed, "connection.Open", "RegisterSession returned non-zero status")
	}
	if respHeader.SessionHandle == 0 {
		c.failLocked()
		return plcerr.New(plcerr.KindRegisterFailed, "connection.Open", "RegisterSession returned a zero session handle")
	}

	c.sessionHandle = respHeader.SessionHandle
	c.state = StateRegistered
	c.lastActivity = time.Now()
	c.logger.Info("enip session registered",
		zap.String("endpoint", c.endpoint.String()),
		zap.Uint32("session_handle", c.sessionHandle),
	)
	return nil
}

// Connect performs a CIP Forward Open over the registered session,
// establishing a Class 3 explicit-messaging connection. Transitions
// StateRegistered -> StateConnected.
func (c *Connection) Connect(ctx context.Context, params ForwardOpenParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRegistered {
		return plcerr.New(plcerr.KindTransport, "connection.Connect", "connection is not in Registered state")
	}

	serial := uint16(time.Now().UnixNano())
	rpiMicros := uint32(params.RPI.Microseconds())

	req := cip.ForwardOpenRequest{
		PriorityTimeTick:            params.PriorityTimeTick,
		TimeoutTicks:                params.TimeoutTicks,
		OToTConnectionID:            0,
		TToOConnectionID:            0,
		ConnectionSerial:            serial,
		OriginatorVendorID:          params.OriginatorVendorID,
		OriginatorSerial:            params.OriginatorSerial,
		ConnectionTimeoutMultiplier: cip.DefaultConnectionTimeoutMultiplier,
		OToTRPI:                     rpiMicros,
		OToTParams:                  cip.DefaultOToTParams,
		TToORPI:                     rpiMicros,
		TToOParams:                  cip.DefaultTToOParams,
		TransportClassTrigger:       params.TransportClassTrigger,
		ConnectionPath:              cip.ConnectionManagerPath(),
	}
	reqData, err := req.Encode()
	if err != nil {
		return plcerr.Wrap(plcerr.KindForwardOpenFail, "connection.Connect", "failed to encode Forward Open request", err)
	}

	status, replyData, err := c.requestRRLocked(ctx, cip.ServiceForwardOpen, cip.ConnectionManagerPath(), reqData)
	if err != nil {
		c.failLocked()
		return err
	}
	if !status.OK() {
		c.failLocked()
		return plcerr.New(plcerr.KindForwardOpenFail, "connection.Connect", "Forward Open returned CIP status "+status.String())
	}

	fwd, err := cip.DecodeForwardOpenResponse(replyData)
	if err != nil {
		c.failLocked()
		return plcerr.Wrap(plcerr.KindMalformedFrame, "connection.Connect", "failed to decode Forward Open reply", err)
	}

	c.oToTConnID = fwd.OToTConnectionID
	c.tToOConnID = fwd.TToOConnectionID
	c.connSerial = fwd.ConnectionSerial
	c.seqCount = 0
	c.state = StateConnected
	c.lastActivity = time.Now()

	c.logger.Info("cip forward open established",
		zap.String("endpoint", c.endpoint.String()),
		zap.Uint32("o_t_conn_id", c.oToTConnID),
		zap.Uint32("t_o_conn_id", c.tToOConnID),
	)

	if identity, err := c.readIdentityLocked(ctx); err != nil {
		c.logger.Warn("failed to read device identity after connect", zap.Error(err))
	} else {
		c.identity = identity
	}

	return nil
}

// RequestRR issues one unconnected CIP request (SendRRData), wrapping
// it in an UnconnectedData CPF item. Valid in state Registered or
// Connected. A transport failure leaves the connection StateBroken.
func (c *Connection) RequestRR(ctx context.Context, service uint8, path cip.Path, payload []byte) (cip.Status, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRegistered && c.state != StateConnected {
		return cip.Status{}, nil, plcerr.New(plcerr.KindTransport, "connection.RequestRR", "connection is not registered")
	}
	status, data, err := c.requestRRLocked(ctx, service, path, payload)
	if plcerr.IsKind(err, plcerr.KindTransport) {
		c.failLocked()
	}
	return status, data, err
}

// RequestUnit issues one Class 3 connected CIP request (SendUnitData),
// wrapping it in a ConnectedAddress + ConnectionData CPF pair and
// pre-incrementing the per-connection sequence counter. Requires state
// Connected.
func (c *Connection) RequestUnit(ctx context.Context, service uint8, path cip.Path, payload []byte) (cip.Status, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return cip.Status{}, nil, plcerr.New(plcerr.KindTransport, "connection.RequestUnit", "connection is not Connected")
	}

	req := cip.Request{Service: service, Path: path, Data: payload}
	reqBytes, err := req.Encode()
	if err != nil {
		return cip.Status{}, nil, plcerr.Wrap(plcerr.KindMalformedFrame, "connection.RequestUnit", "failed to encode CIP request", err)
	}

	c.seqCount++ // pre-increment, wraps at 2^16 by uint16 overflow
	items := []enip.Item{
		enip.ConnectedAddressItem(c.oToTConnID),
		enip.ConnectionDataItem(c.seqCount, reqBytes),
	}
	rr := enip.RRData{InterfaceHandle: 0, Timeout: 0, Items: items}

	_, respData, err := c.exchangeLocked(ctx, enip.CommandSendUnitData, c.sessionHandle, rr.Encode())
	if err != nil {
		c.failLocked()
		return cip.Status{}, nil, err
	}

	return c.parseCIPReplyLocked(respData)
}

// Heartbeat sends an ENIP NOP carrying pattern as its payload. NOP has
// no reply on the wire, so this only detects a write-side transport
// failure (a closed or reset socket); a device that has silently gone
// dark without tearing down TCP is caught by the caller's own read
// timeout on the next real request, not by Heartbeat itself. Valid in
// any state except Closed.
func (c *Connection) Heartbeat(pattern []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return plcerr.New(plcerr.KindSessionClosed, "connection.Heartbeat", "connection is closed")
	}
	if err := c.sendOnlyLocked(enip.CommandNOP, c.sessionHandle, pattern); err != nil {
		c.failLocked()
		return err
	}
	return nil
}

// Close sends Forward Close (if Connected) then UnregisterSession (if
// Registered or Connected), then closes the socket. It always reaches
// StateClosed, even when teardown steps fail; only the first teardown
// error is returned.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}

	var firstErr error

	if c.state == StateConnected {
		if err := c.forwardCloseLocked(ctx); err != nil {
			firstErr = err
			c.logger.Warn("forward close failed during teardown", zap.Error(err))
		}
	}

	if c.state == StateConnected || c.state == StateRegistered {
		// UnregisterSession has no reply; the device simply tears down
		// the session and closes its half of the connection.
		if err := c.sendOnlyLocked(enip.CommandUnregisterSession, c.sessionHandle, nil); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("unregister session failed during teardown", zap.Error(err))
		}
	}

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	return firstErr
}

func (c *Connection) forwardCloseLocked(ctx context.Context) error {
	req := cip.ForwardCloseRequest{
		PriorityTimeTick:   0x03,
		TimeoutTicks:       0xFA,
		ConnectionSerial:   c.connSerial,
		OriginatorVendorID: DefaultForwardOpenParams().OriginatorVendorID,
		ConnectionPath:     cip.ConnectionManagerPath(),
	}
	reqData, err := req.Encode()
	if err != nil {
		return plcerr.Wrap(plcerr.KindMalformedFrame, "connection.forwardClose", "failed to encode Forward Close request", err)
	}
	status, _, err := c.requestRRLocked(ctx, cip.ServiceForwardClose, cip.ConnectionManagerPath(), reqData)
	if err != nil {
		return err
	}
	if !status.OK() {
		return plcerr.New(plcerr.KindEnipProtocol, "connection.forwardClose", "Forward Close returned CIP status "+status.String())
	}
	return nil
}

func (c *Connection) readIdentityLocked(ctx context.Context) (*Identity, error) {
	path := cip.Path{cip.ClassSegment(cip.ClassIdentity), cip.InstanceSegment(1)}
	status, data, err := c.requestRRLocked(ctx, cip.ServiceGetAttributesAll, path, nil)
	if err != nil {
		return nil, err
	}
	if !status.OK() {
		return nil, plcerr.New(plcerr.KindEnipProtocol, "connection.readIdentity", "identity read returned CIP status "+status.String())
	}
	return parseIdentity(data)
}

func (c *Connection) requestRRLocked(ctx context.Context, service uint8, path cip.Path, payload []byte) (cip.Status, []byte, error) {
	req := cip.Request{Service: service, Path: path, Data: payload}
	reqBytes, err := req.Encode()
	if err != nil {
		return cip.Status{}, nil, plcerr.Wrap(plcerr.KindMalformedFrame, "connection.requestRR", "failed to encode CIP request", err)
	}

	items := []enip.Item{enip.NullAddressItem(), enip.UnconnectedDataItem(reqBytes)}
	rr := enip.RRData{InterfaceHandle: 0, Timeout: 0, Items: items}

	_, respData, err := c.exchangeLocked(ctx, enip.CommandSendRRData, c.sessionHandle, rr.Encode())
	if err != nil {
		return cip.Status{}, nil, err
	}
	return c.parseCIPReplyLocked(respData)
}

func (c *Connection) parseCIPReplyLocked(sendRRReplyData []byte) (cip.Status, []byte, error) {
	rr, err := enip.DecodeRRData(sendRRReplyData)
	if err != nil {
		return cip.Status{}, nil, err
	}
	for _, item := range rr.Items {
		if item.Type == enip.ItemUnconnectedData || item.Type == enip.ItemConnectionData {
			data := item.Data
			if item.Type == enip.ItemConnectionData {
				if len(data) < 2 {
					return cip.Status{}, nil, plcerr.New(plcerr.KindMalformedFrame, "connection.parseCIPReply", "ConnectionData item shorter than sequence count")
				}
				data = data[2:]
			}
			resp, err := cip.DecodeResponse(data)
			if err != nil {
				return cip.Status{}, nil, err
			}
			return resp.Status, resp.Data, nil
		}
	}
	return cip.Status{}, nil, plcerr.New(plcerr.KindMalformedFrame, "connection.parseCIPReply", "reply carries no data item")
}

// exchangeLocked sends one ENIP frame and reads exactly one reply
// frame. Caller must hold c.mu.
func (c *Connection) exchangeLocked(ctx context.Context, command enip.Command, sessionHandle uint32, data []byte) (enip.Header, []byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}

	frame := enip.Frame{Header: enip.Header{Command: command, SessionHandle: sessionHandle}, Data: data}
	if _, err := c.conn.Write(frame.Encode()); err != nil {
		return enip.Header{}, nil, plcerr.Wrap(plcerr.KindTransport, "connection.exchange", "write failed", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}

	headerBuf := make([]byte, enip.HeaderSize)
	if _, err := io.ReadFull(c.conn, headerBuf); err != nil {
		return enip.Header{}, nil, plcerr.Wrap(plcerr.KindTransport, "connection.exchange", "read header failed", err)
	}
	header, err := enip.DecodeHeader(headerBuf)
	if err != nil {
		return enip.Header{}, nil, err
	}

	respData := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(c.conn, respData); err != nil {
			return enip.Header{}, nil, plcerr.Wrap(plcerr.KindTransport, "connection.exchange", "read body failed", err)
		}
	}

	c.lastActivity = time.Now()
	return header, respData, nil
}

// sendOnlyLocked writes one ENIP frame without waiting for a reply,
// used for UnregisterSession which the device never acknowledges.
// Caller must hold c.mu.
func (c *Connection) sendOnlyLocked(command enip.Command, sessionHandle uint32, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	frame := enip.Frame{Header: enip.Header{Command: command, SessionHandle: sessionHandle}, Data: data}
	if _, err := c.conn.Write(frame.Encode()); err != nil {
		return plcerr.Wrap(plcerr.KindTransport, "connection.sendOnly", "write failed", err)
	}
	return nil
}

func (c *Connection) failLocked() {
	c.state = StateBroken
}

func parseIdentity(data []byte) (*Identity, error) {
	// Identity Object Get_Attributes_All reply: vendor_id, device_type,
	// product_code, revision (major.minor), status, serial_number,
	// product_name (short string: 1-byte length + ASCII).
	if len(data) < 13 {
		return nil, plcerr.New(plcerr.KindMalformedFrame, "connection.parseIdentity", "identity reply shorter than fixed fields")
	}
	id := &Identity{
		VendorID:     le16(data[0:2]),
		DeviceType:   le16(data[2:4]),
		ProductCode:  le16(data[4:6]),
		Revision:     uint16(data[6])<<8 | uint16(data[7]),
		SerialNumber: le32(data[9:13]),
	}
	id.VendorName = cip.VendorName(id.VendorID)
	if len(data) > 13 {
		n := int(data[13])
		if 14+n <= len(data) {
			id.ProductName = string(data[14 : 14+n])
		}
	}
	return id, nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
