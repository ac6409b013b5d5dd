// link_client.go - TLS mirror link to a partner instance

/*
▄▄▄█████▓▓█████  ███▄ ▄███▓ ██▓███    ██████ ▓█████  ███▄    █   ██████ ▓█████
▓  ██▒ ▓▒▓█   ▀ ▓██▒▀█▀ ██▒▓██░  ██▒▒██    ▒ ▓█   ▀  ██ ▀█   █ ▒██    ▒ ▓█   ▀
▒ ▓██░ ▒░▒███   ▓██    ▓██░▓██░ ██▓▒░ ▓██▄   ▒███   ▓██  ▀█ ██▒░ ▓██▄   ▒███
░ ▓██▓ ░ ▒▓█  ▄ ▒██    ▒██ ▒██▄█▓▒ ▒  ▒   ██▒▒▓█  ▄ ▓██▒  ▐▌██▒  ▒   ██▒▒▓█  ▄
  ▒██▒ ░ ░▒████▒▒██▒   ░██▒▒██▒ ░  ░▒██████▒▒░▒████▒▒██░   ▓██░▒██████▒▒░▒████▒
  ▒ ░░   ░░ ▒░ ░░ ▒░   ░  ░▒▓▒░ ░  ░▒ ▒▓▒ ▒ ░░░ ▒░ ░░ ▒░   ▒ ▒ ▒ ▒▓▒ ▒ ░░░ ▒░ ░
    ░     ░ ░  ░░  ░      ░░▒ ░     ░ ░▒  ░ ░ ░ ░  ░░ ░░   ░ ▒░░ ░▒  ░ ░ ░ ░  ░
  ░         ░   ░      ░   ░░       ░  ░  ░     ░      ░   ░ ░ ░  ░  ░     ░
            ░  ░       ░                  ░     ░  ░         ░       ░     ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/TempSenseVR/TempSense-GUI
License: GPLv3 or later
*/

package main

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LinkState is the session lifecycle of the partner link.
type LinkState int

const (
	LinkClosed LinkState = iota
	LinkHandshaking
	LinkEstablished
)

func (s LinkState) String() string {
	switch s {
	case LinkClosed:
		return "closed"
	case LinkHandshaking:
		return "handshaking"
	case LinkEstablished:
		return "established"
	}
	return fmt.Sprintf("link(%d)", int(s))
}

// ConnectErrorKind separates failures that are worth retrying from ones that
// are not.
type ConnectErrorKind int

const (
	ConnectTransient ConnectErrorKind = iota
	ConnectUnauthorized
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectTransient:
		return "transient"
	case ConnectUnauthorized:
		return "unauthorized"
	}
	return fmt.Sprintf("connect(%d)", int(k))
}

// ConnectError reports why the link could not reach Established. Transient
// kinds are retried internally; Unauthorized is surfaced exactly once and
// ends the worker.
type ConnectError struct {
	Kind    ConnectErrorKind
	Details string
	Err     error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link connect (%s): %s: %v", e.Kind, e.Details, e.Err)
	}
	return fmt.Sprintf("link connect (%s): %s", e.Kind, e.Details)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// LinkStatus is one state change notification from the worker.
type LinkStatus struct {
	State LinkState
	Peer  string
	Err   error
}

const (
	linkOutboundDepth = 256
	linkInboundDepth  = 256
	linkBackoffBase   = 500 * time.Millisecond
	linkBackoffCap    = 30 * time.Second
	linkIOTimeout     = 10 * time.Second
	linkPollSlice     = 250 * time.Millisecond
)

// LinkClient mirrors readings to and from a partner instance. It owns the
// network session completely: connect, handshake, reconnect with backoff.
// Send never blocks; when the outbound queue is full the oldest reading is
// shed, because a mirror that lags is better than a render loop that stalls.
type LinkClient struct {
	cfg   LinkConfig
	dial  func(addr string) (net.Conn, string, error)
	clock Clock
	log   *zap.Logger

	outbound chan SensorReading
	inbound  chan SensorReading
	statusCh chan LinkStatus

	mutex   sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

func NewLinkClient(cfg LinkConfig, clock Clock, log *zap.Logger) (*LinkClient, error) {
	tlsCfg, err := buildLinkTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	c := &LinkClient{
		cfg:      cfg,
		clock:    clock,
		log:      log.Named("link"),
		outbound: make(chan SensorReading, linkOutboundDepth),
		inbound:  make(chan SensorReading, linkInboundDepth),
		statusCh: make(chan LinkStatus, 16),
	}
	if c.clock == nil {
		c.clock = SystemClock
	}
	c.dial = func(addr string) (net.Conn, string, error) {
		dialer := &net.Dialer{Timeout: linkIOTimeout}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if err != nil {
			return nil, "", err
		}
		peer := ""
		if certs := conn.ConnectionState().PeerCertificates; len(certs) > 0 {
			peer = certs[0].Subject.CommonName
		}
		return conn, peer, nil
	}
	return c, nil
}

func buildLinkTLSConfig(cfg LinkConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Insecure,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read link CA %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("link CA %s contains no certificates", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load link client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// Start launches the connect loop.
func (c *LinkClient) Start() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.run()
}

// Stop signals the worker and waits for it. The worker observes shutdown
// within one poll slice even mid-backoff.
func (c *LinkClient) Stop() {
	c.mutex.Lock()
	if !c.started {
		c.mutex.Unlock()
		return
	}
	c.started = false
	close(c.done)
	c.mutex.Unlock()

	c.wg.Wait()
}

// Send queues one local reading for the partner. Non-blocking: a full queue
// sheds its oldest entry first.
func (c *LinkClient) Send(r SensorReading) {
	select {
	case c.outbound <- r:
		return
	default:
	}
	select {
	case <-c.outbound:
		metricQueueDrops.WithLabelValues("link_out").Inc()
	default:
	}
	select {
	case c.outbound <- r:
	default:
	}
}

// Inbound is the stream of remote readings for the application loop.
func (c *LinkClient) Inbound() <-chan SensorReading {
	return c.inbound
}

// Status reports session state changes.
func (c *LinkClient) Status() <-chan LinkStatus {
	return c.statusCh
}

func (c *LinkClient) emit(s LinkStatus) {
	select {
	case c.statusCh <- s:
	default:
		metricQueueDrops.WithLabelValues("link_status").Inc()
	}
}

func (c *LinkClient) run() {
	defer c.wg.Done()
	attempt := 0

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.emit(LinkStatus{State: LinkHandshaking})
		session, err := c.connect()
		if err != nil {
			var cerr *ConnectError
			if errors.As(err, &cerr) && cerr.Kind == ConnectUnauthorized {
				// Permanent. Surface once, never retry.
				c.log.Error("authentication rejected", zap.Error(err))
				c.emit(LinkStatus{State: LinkClosed, Err: err})
				return
			}
			c.emit(LinkStatus{State: LinkClosed, Err: err})
			attempt++
			metricLinkReconnects.Inc()
			if !c.sleep(backoffDelay(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		c.emit(LinkStatus{State: LinkEstablished, Peer: session.peer})
		c.log.Info("established", zap.String("peer", session.peer))

		err = c.serve(session)
		session.conn.Close()
		if err == nil {
			return // Clean shutdown.
		}
		c.log.Warn("session lost", zap.Error(err))
		c.emit(LinkStatus{State: LinkClosed, Err: err})
		attempt++
		metricLinkReconnects.Inc()
		if !c.sleep(backoffDelay(attempt)) {
			return
		}
	}
}

// backoffDelay is exponential from the base with ±20% jitter, capped.
func backoffDelay(attempt int) time.Duration {
	delay := linkBackoffBase
	for i := 1; i < attempt && delay < linkBackoffCap; i++ {
		delay *= 2
	}
	if delay > linkBackoffCap {
		delay = linkBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
	return delay + jitter
}

// sleep waits for d in slices so Stop is observed promptly. Returns false
// when the worker should exit.
func (c *LinkClient) sleep(d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return true
		}
		if remain > linkPollSlice {
			remain = linkPollSlice
		}
		select {
		case <-c.done:
			return false
		case <-time.After(remain):
		}
	}
}

type linkSession struct {
	conn net.Conn
	peer string
	enc  *json.Encoder
	scan *bufio.Scanner
}

func (c *LinkClient) connect() (*linkSession, error) {
	conn, peer, err := c.dial(c.cfg.Address)
	if err != nil {
		if isAuthError(err) {
			return nil, &ConnectError{Kind: ConnectUnauthorized, Details: "TLS handshake rejected", Err: err}
		}
		return nil, &ConnectError{Kind: ConnectTransient, Details: "dial " + c.cfg.Address, Err: err}
	}

	session := &linkSession{
		conn: conn,
		peer: peer,
		enc:  json.NewEncoder(conn),
		scan: bufio.NewScanner(conn),
	}
	session.scan.Buffer(make([]byte, 4096), 64*1024)

	conn.SetDeadline(time.Now().Add(linkIOTimeout))
	hello := linkFrame{Type: frameHello, Name: c.cfg.Name, Token: c.cfg.Token}
	if err := session.enc.Encode(&hello); err != nil {
		conn.Close()
		return nil, &ConnectError{Kind: ConnectTransient, Details: "send hello", Err: err}
	}
	ack, err := session.readFrame()
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Kind: ConnectTransient, Details: "read hello ack", Err: err}
	}
	if ack.Type != frameHelloAck {
		conn.Close()
		return nil, &ConnectError{Kind: ConnectTransient,
			Details: fmt.Sprintf("expected hello_ack, got %q", ack.Type)}
	}
	if ack.Status != helloStatusOK {
		conn.Close()
		return nil, &ConnectError{Kind: ConnectUnauthorized,
			Details: fmt.Sprintf("partner denied hello: %s", ack.Reason)}
	}
	if session.peer == "" {
		session.peer = ack.Name
	}
	conn.SetDeadline(time.Time{})
	return session, nil
}

func (s *linkSession) readFrame() (linkFrame, error) {
	if !s.scan.Scan() {
		if err := s.scan.Err(); err != nil {
			return linkFrame{}, err
		}
		return linkFrame{}, fmt.Errorf("connection closed")
	}
	var f linkFrame
	if err := json.Unmarshal(s.scan.Bytes(), &f); err != nil {
		return linkFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return f, nil
}

// serve pumps one established session until it fails or the worker stops.
// Returns nil only on clean shutdown.
func (c *LinkClient) serve(session *linkSession) error {
	frames := make(chan linkFrame, 32)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, err := session.readFrame()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-c.done:
				return
			}
		}
	}()

	for {
		select {
		case <-c.done:
			session.conn.SetWriteDeadline(time.Now().Add(time.Second))
			session.enc.Encode(&linkFrame{Type: frameBye})
			return nil

		case err := <-readErr:
			return err

		case f := <-frames:
			switch f.Type {
			case frameReading:
				if f.Reading == nil {
					continue
				}
				reading, err := f.Reading.toReading(c.clock.Now())
				if err != nil {
					c.log.Warn("dropping bad wire reading", zap.Error(err))
					continue
				}
				select {
				case c.inbound <- reading:
				default:
					metricQueueDrops.WithLabelValues("link_in").Inc()
				}
			case frameBye:
				return fmt.Errorf("partner said bye")
			}

		case r := <-c.outbound:
			session.conn.SetWriteDeadline(time.Now().Add(linkIOTimeout))
			frame := linkFrame{Type: frameReading, Reading: readingToWire(r)}
			if err := session.enc.Encode(&frame); err != nil {
				return fmt.Errorf("send reading: %w", err)
			}
		}
	}
}

// isAuthError classifies TLS-level certificate rejections as permanent.
func isAuthError(err error) bool {
	var certErr *tls.CertificateVerificationError
	return errors.As(err, &certErr)
}
