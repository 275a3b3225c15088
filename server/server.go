// Package server exposes the auction controller over a stream listener (TCP or vsock).
//
// Each connection carries exactly one JSON request, terminated by the client closing
// its write side, and receives exactly one JSON response.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedbid/auctionapi"
	"github.com/cloudx-io/sealedbid/controller"
	"github.com/cloudx-io/sealedbid/logging"
	"github.com/cloudx-io/sealedbid/metrics"
	"github.com/cloudx-io/sealedbid/receipt"
)

const (
	NetworkTCP   = "tcp"
	NetworkVsock = "vsock"
)

// Config controls the listener and the per-connection limits.
type Config struct {
	Network   string
	Address   string // tcp only
	VsockPort uint32 // vsock only

	MaxWorkers     int
	ReadTimeout    time.Duration
	MaxRequestSize int64

	// ReplayWindow bounds how far issued_at may be from the server clock.
	ReplayWindow    time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Network:         NetworkTCP,
		Address:         "127.0.0.1:5000",
		VsockPort:       5000,
		MaxWorkers:      64,
		ReadTimeout:     30 * time.Second,
		MaxRequestSize:  1 << 20,
		ReplayWindow:    time.Minute,
		CleanupInterval: 10 * time.Second,
	}
}

// Listen opens the listener described by cfg.
func Listen(cfg Config) (net.Listener, error) {
	switch cfg.Network {
	case NetworkTCP:
		l, err := net.Listen("tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		return l, nil
	case NetworkVsock:
		l, err := vsock.Listen(cfg.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create vsock listener: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
}

// Server answers auction requests.
type Server struct {
	cfg     Config
	ctl     *controller.Controller
	issuer  receipt.Issuer
	replay  *ReplayGuard
	clock   controller.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithIssuer enables get_receipt.
func WithIssuer(i receipt.Issuer) Option {
	return func(s *Server) { s.issuer = i }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics enables request accounting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides the clock used for the replay window and receipt timestamps.
func WithClock(c controller.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a server dispatching to ctl.
func New(ctl *controller.Controller, cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		ctl:   ctl,
		clock: controller.SystemClock{},
		log:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	def := DefaultConfig()
	if s.cfg.MaxWorkers <= 0 {
		s.cfg.MaxWorkers = def.MaxWorkers
	}
	if s.cfg.ReadTimeout <= 0 {
		s.cfg.ReadTimeout = def.ReadTimeout
	}
	if s.cfg.MaxRequestSize <= 0 {
		s.cfg.MaxRequestSize = def.MaxRequestSize
	}
	if s.cfg.ReplayWindow <= 0 {
		s.cfg.ReplayWindow = def.ReplayWindow
	}
	if s.cfg.CleanupInterval <= 0 {
		s.cfg.CleanupInterval = def.CleanupInterval
	}
	s.log = s.log.With("pkg", "server")
	s.replay = NewReplayGuard(s.cfg.ReplayWindow, s.clock)
	return s
}

// Serve accepts connections on l until ctx is cancelled. It closes l and waits for
// in-flight requests before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("failed to close listener", "err", err)
		}
	}()

	s.replay.StartExpirationCleanup(ctx, s.cfg.CleanupInterval, 2*s.cfg.ReplayWindow)

	maxWorkers := s.cfg.MaxWorkers
	semaphore := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	defer wg.Wait()

	s.log.Info("server listening", "addr", l.Addr().String(), "max_workers", maxWorkers)

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("server stopped")
				return nil
			}
			s.log.Error("failed to accept connection", "err", err)
			continue
		}

		// Acquire worker slot, rejecting immediately if the pool is full.
		select {
		case semaphore <- struct{}{}:
			wg.Add(1)
			go func(c net.Conn) {
				defer wg.Done()
				defer func() { <-semaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.metrics.Busy()
			s.log.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error("failed to close rejected connection", "err", err)
			}
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in connection handler", "panic", r)
		}
		if err := conn.Close(); err != nil {
			s.log.Error("failed to close connection", "err", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(conn, s.cfg.MaxRequestSize+1))
	if err != nil {
		s.log.Error("failed to read request", "err", err)
		return
	}

	var resp *auctionapi.Response
	if n > s.cfg.MaxRequestSize {
		// Drain the rest so the reply is not lost to a reset.
		_, _ = io.Copy(io.Discard, conn)
		resp = s.failure(&auctionapi.Request{Type: "unknown"}, newRequestError(fmt.Errorf("request exceeds %d bytes", s.cfg.MaxRequestSize)))
	} else {
		var req auctionapi.Request
		if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
			resp = s.failure(&auctionapi.Request{Type: "unknown"}, newRequestError(fmt.Errorf("decode request: %w", err)))
		} else {
			resp = s.handle(ctx, &req)
		}
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Error("failed to encode response", "err", err, "request_id", resp.RequestID)
	}
}
