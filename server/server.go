// Package server exposes the read engine over WebSocket. Phones connect on
// /ws/device, register, and submit captures; consumers connect on /ws and
// receive every report and device status change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/nedpals/nfcard/buildinfo"
	"github.com/nedpals/nfcard/internal/config"
	"github.com/nedpals/nfcard/nfc"
)

// mDNS service discovery
var (
	MDNSServiceType = "_nfcard._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

const shutdownTimeout = 5 * time.Second

// Server serves phones and consumers.
type Server struct {
	cfg     config.ServerConfig
	orch    *nfc.Orchestrator
	devices *DeviceRegistry
	hub     *Hub
	clock   nfc.Clock
	logger  *zap.Logger

	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(c nfc.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(cfg config.ServerConfig, orch *nfc.Orchestrator, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		clock:  nfc.NewRealClock(),
		logger: zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")
	s.devices = NewDeviceRegistry(cfg.DeviceTimeout, s.clock)
	s.hub = NewHub(s.logger)
	return s
}

func (s *Server) Devices() *DeviceRegistry { return s.devices }
func (s *Server) Hub() *Hub                { return s.hub }

// BroadcastReport pushes a report read elsewhere, such as by the local
// reader, to every consumer.
func (s *Server) BroadcastReport(report *nfc.TagReport) {
	s.hub.BroadcastReport(report)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealth(w, r)
	}))
	mux.HandleFunc("/ws/device", s.handleDeviceWebSocket)
	mux.HandleFunc("/ws", s.handleConsumerWebSocket)
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "%s running\n", buildinfo.DisplayName)
	}))
	return mux
}

// Run listens on the configured port until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.MDNS {
		mdns, err := s.startMDNS(ln.Addr())
		if err != nil {
			s.logger.Warn("Failed to start mDNS service, auto-discovery disabled", zap.Error(err))
		} else {
			defer mdns.Shutdown()
		}
	}

	go s.expireLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.Stringer("addr", ln.Addr()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) startMDNS(addr net.Addr) (*zeroconf.Server, error) {
	port := s.cfg.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	txt := []string{
		"version=" + buildinfo.Version,
		"agent=" + buildinfo.UserAgent(),
		"protocol=websocket",
		"path=/ws",
		"device_path=/ws/device",
	}
	mdns, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.logger.Info("mDNS service registered", zap.String("name", MDNSServiceName), zap.Int("port", port))
	return mdns, nil
}

// expireLoop drops phones that stopped sending heartbeats.
func (s *Server) expireLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.devices.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.expireDevices()
		}
	}
}

func (s *Server) expireDevices() {
	for _, d := range s.devices.Expire() {
		s.logger.Info("Device expired", zap.String("device", d.ID), zap.Stringer("name", d))
		s.broadcastStatus(d, false)
	}
}

func (s *Server) broadcastStatus(d *Device, connected bool) {
	s.hub.BroadcastDeviceStatus(DeviceStatus{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Platform:   d.Platform,
		Connected:  connected,
		Devices:    s.devices.Count(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Server", buildinfo.UserAgent())
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "ok",
		Version: buildinfo.FullVersion(),
		Dev:     buildinfo.IsDev(),
		Devices: s.devices.Count(),
	})
}

// handleConsumerWebSocket registers a consumer and holds the connection open
// until it closes. Consumers only receive.
func (s *Server) handleConsumerWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	c := newClient(conn)
	s.hub.Add(c)
	s.logger.Info("Consumer connected", zap.String("remote", r.RemoteAddr))
	defer func() {
		s.hub.Remove(c)
		c.Close()
		s.logger.Info("Consumer disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// enableCORS adds CORS headers and answers preflight requests.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
