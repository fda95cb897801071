package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "cryptostream/config"
	"cryptostream/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	controlWriteWait        = time.Second
)

// RawStream yields the frames of one open connection. Next blocks until a
// frame arrives and returns io.EOF once the server closes the connection
// normally.
type RawStream interface {
	Next() (Frame, error)
	Close() error
}

// Connector opens one upstream connection per subscription.
type Connector interface {
	Open(ctx context.Context, sub Subscription) (RawStream, error)
}

// WSConnector dials <base_url>/<subscription path> over websocket.
type WSConnector struct {
	baseURL   string
	dialer    *websocket.Dialer
	readLimit int64
	log       *logger.Log
}

// NewWSConnector builds a connector from the stream configuration.
func NewWSConnector(cfg appconfig.StreamConfig) *WSConnector {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	if cfg.LocalIP != "" {
		if ip := net.ParseIP(cfg.LocalIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		}
	}
	return &WSConnector{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		dialer:    dialer,
		readLimit: cfg.ReadLimit,
		log:       logger.GetLogger(),
	}
}

// URL returns the address a subscription is served from.
func (c *WSConnector) URL(sub Subscription) string {
	return c.baseURL + "/" + sub.Path()
}

// Open performs the websocket handshake. Every failure is a *ConnectionError.
func (c *WSConnector) Open(ctx context.Context, sub Subscription) (RawStream, error) {
	endpoint := c.URL(sub)
	log := c.log.WithComponent("stream_connector").WithSubscription(sub).WithFields(logger.Fields{
		"feed": sub.Feed().String(),
	})

	if _, err := url.Parse(endpoint); err != nil {
		return nil, &ConnectionError{Subscription: sub, URL: endpoint, Err: err}
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		log.WithError(err).Warn("websocket handshake failed")
		return nil, &ConnectionError{Subscription: sub, URL: endpoint, Err: err}
	}
	if c.readLimit > 0 {
		conn.SetReadLimit(c.readLimit)
	}

	log.Debug("websocket connected")
	return newWSStream(conn), nil
}

// wsStream reads one connection on its own goroutine so control frames
// can be reported as soon as they arrive.
type wsStream struct {
	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}
	err    error

	closeOnce sync.Once
	closeErr  error
}

func newWSStream(conn *websocket.Conn) *wsStream {
	s := &wsStream{
		conn:   conn,
		frames: make(chan Frame),
		done:   make(chan struct{}),
	}
	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				return err
			}
		}
		s.deliver(Frame{Type: PingFrame, Data: []byte(appData)})
		return nil
	})
	conn.SetPongHandler(func(appData string) error {
		s.deliver(Frame{Type: PongFrame, Data: []byte(appData)})
		return nil
	})
	go s.readLoop()
	return s
}

func (s *wsStream) readLoop() {
	defer close(s.frames)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				s.err = net.ErrClosed
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.err = io.EOF
				} else {
					s.err = err
				}
			}
			return
		}
		frameType := TextFrame
		if messageType == websocket.BinaryMessage {
			frameType = BinaryFrame
		}
		if !s.deliver(Frame{Type: frameType, Data: data}) {
			s.err = net.ErrClosed
			return
		}
	}
}

func (s *wsStream) deliver(f Frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		return false
	}
}

func (s *wsStream) Next() (Frame, error) {
	f, ok := <-s.frames
	if !ok {
		return Frame{}, s.err
	}
	return f, nil
}

// Close sends a close frame and tears the connection down. It is safe to
// call more than once.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlWriteWait))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
