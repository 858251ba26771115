// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mbslave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a Modbus TCP slave. It accepts connections, serves one session
// goroutine per connection, and runs every request against one shared
// register bank.
type Server struct {
	bank RegisterBank
	opts *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// ServerMetrics holds server-side metrics.
type ServerMetrics struct {
	RequestsTotal   Counter
	RequestsSuccess Counter
	RequestsErrors  Counter
	Exceptions      Counter
	ActiveConns     Counter
	TotalConns      Counter
}

// NewServer creates a server for the given register bank. Sizing and
// seeding the bank is the caller's responsibility.
func NewServer(bank RegisterBank, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		bank:    bank,
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: &ServerMetrics{},
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// ListenAndServe starts the server on the given address and blocks until
// Close is called or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// ListenAndServeContext starts the server on the given address and shuts it
// down when ctx is cancelled.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Start begins accepting on the given address and returns immediately. Use
// Close to stop accepting and join the accept loop and all sessions.
func (s *Server) Start(addr string) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	// Publish the listener before the accept loop runs so a Close racing
	// with Start finds something to close, and Addr is valid on return.
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	if atomic.LoadInt32(&s.closed) == 1 {
		listener.Close()
		return ErrServerClosed
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(listener); err != nil {
			s.opts.logger.Error("serve error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Serve runs the accept loop on the given listener. Each accepted
// connection gets its own session goroutine. Serve returns nil once the
// listener fails after Close; a listener failure during normal operation is
// logged and the loop continues.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// Close may have run before the listener was stored; it then had
	// nothing to close, so honor the closed flag here instead of
	// accepting on a listener nobody can shut down.
	if atomic.LoadInt32(&s.closed) == 1 {
		listener.Close()
		return nil
	}

	s.opts.logger.Info("server started",
		slog.String("addr", listener.Addr().String()),
		slog.Int("registers", s.bank.Size()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.metrics.TotalConns.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Close stops accepting, force-closes every live connection so blocked
// session reads fail promptly, and waits for all session goroutines to
// finish. It is safe to call more than once.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the server's listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of live sessions.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// serveConn is one client session: read a frame, dispatch it, write the
// response, until the peer goes away or sends something unframeable.
// Frames on one connection are handled strictly in order; there is no
// pipelining.
func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in session",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.opts.logger.Debug("connection accepted",
		slog.String("remote", conn.RemoteAddr().String()))

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}

		frame, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				// ReadFrame wraps transport errors, so unwrap before
				// checking for an expected idle-deadline expiry.
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", conn.RemoteAddr().String()),
						slog.String("error", err.Error()))
				}
			}
			return
		}

		s.metrics.RequestsTotal.Add(1)
		response, err := s.processRequest(frame)
		if err != nil {
			// Malformed frame: drop the connection instead of guessing at
			// field offsets.
			if errors.Is(err, ErrMalformedFrame) {
				s.metrics.RequestsErrors.Add(1)
				s.opts.logger.Warn("dropping connection",
					slog.String("remote", conn.RemoteAddr().String()),
					slog.String("error", err.Error()))
			}
			return
		}

		if s.opts.readTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.readTimeout))
		}

		if _, err := conn.Write(response); err != nil {
			s.metrics.RequestsErrors.Add(1)
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}

		s.metrics.RequestsSuccess.Add(1)
	}
}
