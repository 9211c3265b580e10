// Package client implements the Streaming Protocol Client (SPC): a
// request/reply façade over one Receive Worker's event stream,
// multiplexing long-lived per-partition streams over a single TCP
// connection via opaque request ids. All client state (pending requests,
// stream queues, active streams, the request-id counter) is owned by one
// coordinator goroutine and mutated only by its select loop; callers
// interact with it exclusively through an unbuffered command channel, the Go
// analogue of the source's message-passing coordinator task (spec.md §5).
package client

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/viewmerge/go/protocol"
	"github.com/estuary/viewmerge/go/recvworker"
)

// ErrStreamNotFound is returned when an operation names a partition or
// request-id with no registered StreamQueue.
var ErrStreamNotFound = errors.New("vbucket_stream_not_found")

// ErrNoFailoverLog is returned when get_failover_log finds an empty log.
var ErrNoFailoverLog = errors.New("no_failover_log_found")

// ErrTooLargeFailoverLog is returned by enum_docs_since when a partition
// version's failover log exceeds Config.MaxFailoverLogSize.
var ErrTooLargeFailoverLog = errors.New("too_large_failover_log")

// Config holds the tunables named in spec.md §6.
type Config struct {
	ConnectTimeout     time.Duration // default 5s
	MaxFailoverLogSize int
	OpaqueWidth        uint32 // request-id wraps at this boundary
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 5 * time.Second
}

func (c Config) opaqueWidth() uint32 {
	if c.OpaqueWidth > 0 {
		return c.OpaqueWidth
	}
	return 1 << 24
}

// Client is one open connection to the protocol server, with the
// coordinator goroutine's state hidden behind command channels.
type Client struct {
	conn   net.Conn
	cfg    Config
	cmds   chan command
	closed chan struct{}
}

// FailoverEntry mirrors protocol.FailoverEntry at the client boundary.
type FailoverEntry = protocol.FailoverEntry

// Start opens a TCP connection to addr, performs the SASL-auth and
// open-connection handshake synchronously in bootstrap mode, then starts
// the Receive Worker and coordinator goroutines.
func Start(ctx context.Context, addr, name, mechanism, credentials string, cfg Config) (*Client, error) {
	var d = net.Dialer{Timeout: cfg.connectTimeout()}
	var conn, err = d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "dialing protocol server")
	}

	var c = &Client{conn: conn, cfg: cfg, cmds: make(chan command), closed: make(chan struct{})}

	if err := c.bootstrapHandshake(name, mechanism, credentials); err != nil {
		c.logger().WithField("err", err).Warn("bootstrap handshake failed")
		conn.Close()
		return nil, err
	}

	var responses = make(chan recvworker.StreamResponse, 64)
	var events = make(chan recvworker.StreamEvent, 64)
	var rw = &recvworker.Worker{Conn: conn, Responses: responses, Events: events}

	var rwErr = make(chan error, 1)
	go func() { rwErr <- rw.Run() }()
	go runCoordinator(c, responses, events, rwErr)

	return c, nil
}

// bootstrapHandshake performs SASL-auth then open-connection synchronously,
// reusing the header/body wire format but reading replies directly off the
// socket rather than through the Receive Worker (spec.md §4.7 "start").
func (c *Client) bootstrapHandshake(name, mechanism, credentials string) error {
	var conn = c.conn
	if _, err := conn.Write(protocol.EncodeSASLAuth(0, mechanism, credentials)); err != nil {
		return errors.Wrap(err, "writing sasl auth frame")
	}
	var status, err = readBootstrapStatus(conn)
	if err != nil {
		return err
	}
	if status != protocol.StatusOK {
		return errors.New("sasl_auth_failed")
	}

	if _, err := conn.Write(protocol.EncodeOpenConnection(1, name)); err != nil {
		return errors.Wrap(err, "writing open-connection frame")
	}
	status, err = readBootstrapStatus(conn)
	if err != nil {
		return err
	}
	if status != protocol.StatusOK {
		return errors.Errorf("open_connection failed: status %d", status)
	}
	return nil
}

func readBootstrapStatus(conn net.Conn) (protocol.Status, error) {
	var header = make([]byte, protocol.HeaderLen)
	if _, err := readFull(conn, header); err != nil {
		return 0, errors.Wrap(err, "reading bootstrap response header")
	}
	var h, err = protocol.DecodeHeader(header)
	if err != nil {
		return 0, err
	}
	if h.BodyLen > 0 {
		var body = make([]byte, h.BodyLen)
		if _, err := readFull(conn, body); err != nil {
			return 0, errors.Wrap(err, "reading bootstrap response body")
		}
	}
	return h.Status, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	var n int
	for n < len(buf) {
		var k, err = conn.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close tears down the coordinator and the underlying connection. RW does
// not survive client termination (spec.md §5 "SPC teardown").
func (c *Client) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	var err = c.conn.Close()
	if err != nil {
		c.logger().WithField("err", err).Warn("closing connection failed")
	}
	return err
}

func (c *Client) logger() *log.Entry {
	return log.WithFields(log.Fields{"remote": c.conn.RemoteAddr()})
}
