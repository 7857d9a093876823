// Package server exposes a host procedure registry to remote kernels and
// serves editor features for kernel source.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tliron/commonlog"

	"github.com/chazu/kairos/rpc"
)

var log = commonlog.GetLogger("kairos.server")

// HostServer serves the host side of the RPC bridge. The call procedure is
// available over Connect, gRPC and gRPC-Web on one port; plaintext HTTP/2
// (h2c) is accepted so gRPC clients need no TLS. A small JSON status API
// lives next to it.
type HostServer struct {
	reg     *rpc.Registry
	mux     *http.ServeMux
	api     *echo.Echo
	started time.Time

	httpServer *http.Server
}

// ServerOption configures a HostServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	handlerOpts []connect.HandlerOption
	readTimeout time.Duration
}

// WithHandlerOptions passes options through to the Connect handler.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handlerOpts = append(c.handlerOpts, opts...) }
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.readTimeout = d }
}

// New creates a HostServer for reg.
func New(reg *rpc.Registry, opts ...ServerOption) *HostServer {
	cfg := &serverConfig{readTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &HostServer{
		reg:     reg,
		mux:     http.NewServeMux(),
		api:     echo.New(),
		started: time.Now(),
	}

	s.api.HideBanner = true
	s.api.HidePort = true
	s.api.Use(middleware.Recover())
	s.api.GET("/healthz", s.health)
	s.api.GET("/v1/targets", s.targets)

	callPath, callHandler := rpc.NewHandler(reg, cfg.handlerOpts...)
	s.mux.Handle(callPath, callHandler)
	s.mux.Handle("/healthz", s.api)
	s.mux.Handle("/v1/", s.api)

	protocols := new(http.Protocols)
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.httpServer = &http.Server{
		Handler:           s.mux,
		Protocols:         protocols,
		ReadHeaderTimeout: cfg.readTimeout,
	}

	return s
}

// Handler returns the root handler, for embedding in another server or a
// test harness.
func (s *HostServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server on addr ("host:port" or ":port"). It
// returns nil after Shutdown.
func (s *HostServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *HostServer) Serve(ln net.Listener) error {
	log.Noticef("host procedures listening on %s", ln.Addr())
	log.Infof("  connect: http://%s%s", ln.Addr(), rpc.ProcedureCall)
	log.Infof("  grpc:    %s", ln.Addr())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting calls and waits for in-flight ones.
func (s *HostServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Health is the /healthz response body.
type Health struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime_seconds"`
}

// Targets is the /v1/targets response body.
type Targets struct {
	Service   string   `json:"service"`
	Procedure string   `json:"procedure"`
	Targets   []string `json:"targets"`
}

func (s *HostServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, Health{
		Status: "ok",
		Uptime: time.Since(s.started).Seconds(),
	})
}

func (s *HostServer) targets(c echo.Context) error {
	names := s.reg.Names()
	if names == nil {
		names = []string{}
	}
	return c.JSON(http.StatusOK, Targets{
		Service:   rpc.ServiceName,
		Procedure: rpc.ProcedureCall,
		Targets:   names,
	})
}
