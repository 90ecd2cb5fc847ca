// Package fbproxy bridges a single framebuffer-viewer WebSocket
// connection to the backend framebuffer-server TCP connection, copying
// raw bytes end-to-end with no protocol interpretation (spec.md §4.6).
// The bidirectional-copy/teardown shape generalizes a WS↔WS forwarding
// loop to WS↔TCP, stripped of the chat-protocol concerns (media
// injection, subprotocol negotiation) that don't apply to an opaque
// byte pump.
package fbproxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Metrics is the minimal counter surface Session needs; satisfied by
// internal/metrics.Metrics.
type Metrics interface {
	FbproxySessionsTotal()
	FbproxyBytesTotal(direction string, n int)
	FbproxyErrorsTotal(reason string)
}

// Session bridges one client WebSocket connection to one backend TCP
// connection for the lifetime of both.
type Session struct {
	Client  *websocket.Conn
	Backend net.Conn
	Metrics Metrics

	// WriteTimeout bounds every individual write to either side.
	WriteTimeout time.Duration

	closeClientOnce  sync.Once
	closeBackendOnce sync.Once
}

// Dial opens a TCP connection to addr and returns a Session ready to Run.
func Dial(ctx context.Context, client *websocket.Conn, addr string, metrics Metrics) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Session{
		Client:       client,
		Backend:      conn,
		Metrics:      metrics,
		WriteTimeout: 10 * time.Second,
	}, nil
}

// Run pumps bytes in both directions until either side closes or ctx is
// cancelled, then tears down both sides exactly once (spec.md §8: "at
// most one close/destroy is effectively observed on each side").
func (s *Session) Run(ctx context.Context) {
	if s.Metrics != nil {
		s.Metrics.FbproxySessionsTotal()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		s.pumpClientToBackend(runCtx)
		// A backend Read does not observe runCtx; closing the backend
		// releases pumpBackendToClient once the client side has stopped.
		s.closeBackend()
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.pumpBackendToClient(runCtx)
	}()

	wg.Wait()
	s.closeClient()
	s.closeBackend()
}

// pumpClientToBackend reads binary WS frames from the client and writes
// the raw bytes to the backend TCP connection.
func (s *Session) pumpClientToBackend(ctx context.Context) {
	for {
		msgType, reader, err := s.Client.Reader(ctx)
		if err != nil {
			slog.Debug("fbproxy: client read stopped", "error", err)
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}

		if s.WriteTimeout > 0 {
			_ = s.Backend.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		}
		n, err := io.Copy(s.Backend, reader)
		if s.Metrics != nil && n > 0 {
			s.Metrics.FbproxyBytesTotal("client_to_backend", int(n))
		}
		if err != nil {
			if s.Metrics != nil {
				s.Metrics.FbproxyErrorsTotal("backend_write")
			}
			slog.Debug("fbproxy: backend write failed", "error", err)
			return
		}
	}
}

// pumpBackendToClient reads raw bytes from the backend TCP connection
// and forwards each read as a single binary WS frame.
func (s *Session) pumpBackendToClient(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.Backend.Read(buf)
		if n > 0 {
			writeCtx, writeCancel := context.WithTimeout(ctx, s.WriteTimeout)
			writeErr := s.Client.Write(writeCtx, websocket.MessageBinary, buf[:n])
			writeCancel()
			if s.Metrics != nil {
				s.Metrics.FbproxyBytesTotal("backend_to_client", n)
			}
			if writeErr != nil {
				if s.Metrics != nil {
					s.Metrics.FbproxyErrorsTotal("client_write")
				}
				slog.Debug("fbproxy: client write failed", "error", writeErr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("fbproxy: backend read stopped", "error", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) closeClient() {
	s.closeClientOnce.Do(func() {
		s.Client.Close(websocket.StatusNormalClosure, "")
	})
}

func (s *Session) closeBackend() {
	s.closeBackendOnce.Do(func() {
		s.Backend.Close()
	})
}
