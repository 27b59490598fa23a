// Package server owns the tool registry, the transports, and the lifecycle
// that connects them: a bounded inbound queue consumed by one processing
// goroutine, a session per live connection, and aggregate statistics.
//
// The lifecycle is New -> Start -> Stop -> Close. Stop on a stopped server
// is a no-op success, and Close stops first if needed; callers never have
// to track whether a stop already happened.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgemcp/device-server-go/internal/jsonrpc"
	"github.com/edgemcp/device-server-go/internal/logctx"
	"github.com/edgemcp/device-server-go/mcp"
	"github.com/edgemcp/device-server-go/mcpserver"
	"github.com/edgemcp/device-server-go/sessions"
	"github.com/edgemcp/device-server-go/transport"
)

// ResponseTimeout bounds how long handling one inbound request may take,
// including the tool handler itself.
const ResponseTimeout = 5 * time.Second

// DefaultQueueDepth bounds the inbound message queue.
const DefaultQueueDepth = 32

const statsRefreshInterval = time.Second

var (
	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("server: already started")

	// ErrClosed is returned by operations on a closed server.
	ErrClosed = errors.New("server: closed")

	// ErrStarted is returned by assembly operations once the server runs.
	ErrStarted = errors.New("server: cannot modify a started server")
)

type lifecycleState int

const (
	stateNew lifecycleState = iota
	stateRunning
	stateStopped
	stateClosed
)

// Stats aggregates the server's counters across its transports and the
// dispatcher.
type Stats struct {
	MessagesReceived  uint64
	MessagesSent      uint64
	RequestsProcessed uint64
	Errors            uint64
	ToolsExecuted     uint64
	ActiveConnections int
	Uptime            time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithInfo sets the implementation info returned during initialization.
func WithInfo(name, version string) Option {
	return func(s *Server) { s.info = mcp.ImplementationInfo{Name: name, Version: version} }
}

// WithQueueDepth overrides the inbound queue depth.
func WithQueueDepth(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueDepth = n
		}
	}
}

// WithRegistryCapacity overrides the tool registry capacity.
func WithRegistryCapacity(n int) Option {
	return func(s *Server) { s.registryCapacity = n }
}

// WithMaxResultBytes overrides the tool result size bound.
func WithMaxResultBytes(n int) Option {
	return func(s *Server) { s.maxResultBytes = n }
}

type namedTransport struct {
	name string
	tr   transport.Transport
}

type inboundMsg struct {
	tr   *namedTransport
	conn transport.ConnID
	env  *jsonrpc.Envelope
}

// Server exposes a tool registry over one or more transports. Create with
// New, assemble with RegisterTool and AddTransport, then Start.
type Server struct {
	id   string
	info mcp.ImplementationInfo
	log  *slog.Logger

	registryCapacity int
	maxResultBytes   int
	queueDepth       int

	registry   *mcpserver.Registry
	dispatcher *mcpserver.Dispatcher
	transports []*namedTransport
	sessions   *sessions.Manager

	mu                sync.Mutex
	state             lifecycleState
	startedAt         time.Time
	requestsProcessed uint64
	serverErrors      uint64

	queue chan inboundMsg
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New builds an assembled-but-idle server. Built-in methods (initialize,
// ping, echo) are wired immediately; tools and transports are added before
// Start.
func New(opts ...Option) *Server {
	s := &Server{
		id:         uuid.NewString(),
		info:       mcp.ImplementationInfo{Name: "device-server", Version: "0.0.0"},
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		queueDepth: DefaultQueueDepth,
		sessions:   sessions.NewManager(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = slog.New(logctx.Handler{Handler: s.log.Handler()})

	s.registry = mcpserver.NewRegistry(s.registryCapacity)
	dispatcherOpts := []mcpserver.DispatcherOption{mcpserver.WithDispatcherLogger(s.log)}
	if s.maxResultBytes > 0 {
		dispatcherOpts = append(dispatcherOpts, mcpserver.WithMaxResultBytes(s.maxResultBytes))
	}
	s.dispatcher = mcpserver.NewDispatcher(s.registry, dispatcherOpts...)

	s.registerBuiltins()
	return s
}

// ID returns the server instance identifier.
func (s *Server) ID() string { return s.id }

// RegisterTool adds a tool to the registry. Legal only before Start.
func (s *Server) RegisterTool(tool mcpserver.StaticTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNew && s.state != stateStopped {
		return ErrStarted
	}
	return s.registry.Register(tool)
}

// AddTransport attaches a transport under a short name used in logs. Legal
// only before Start.
func (s *Server) AddTransport(name string, tr transport.Transport) error {
	if name == "" || tr == nil {
		return fmt.Errorf("server: transport name and instance are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateNew && s.state != stateStopped {
		return ErrStarted
	}
	for _, nt := range s.transports {
		if nt.name == name {
			return fmt.Errorf("server: transport %q already added", name)
		}
	}
	s.transports = append(s.transports, &namedTransport{name: name, tr: tr})
	return nil
}

// Start freezes the registry, starts every transport, and launches the
// processing and stats goroutines.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	if len(s.transports) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("server: no transports configured")
	}
	s.registry.Freeze()
	s.queue = make(chan inboundMsg, s.queueDepth)
	s.stop = make(chan struct{})
	s.state = stateRunning
	s.startedAt = time.Now()
	transports := s.transports
	s.mu.Unlock()

	for _, nt := range transports {
		s.installCallbacks(nt)
	}
	started := make([]*namedTransport, 0, len(transports))
	for _, nt := range transports {
		if err := nt.tr.Start(ctx); err != nil {
			for _, prev := range started {
				_ = prev.tr.Stop()
			}
			s.mu.Lock()
			s.state = stateStopped
			close(s.stop)
			s.mu.Unlock()
			return fmt.Errorf("server: start transport %s: %w", nt.name, err)
		}
		started = append(started, nt)
	}

	s.wg.Add(2)
	go s.processLoop()
	go s.statsLoop()

	s.log.InfoContext(ctx, "server started",
		slog.String("server_id", s.id),
		slog.Int("tools", s.registry.Len()),
		slog.Int("transports", len(transports)))
	return nil
}

// Stop shuts down the transports and the worker goroutines. Stopping a
// stopped (or never started) server is a no-op success.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	close(s.stop)
	transports := s.transports
	s.mu.Unlock()

	var firstErr error
	for _, nt := range transports {
		if err := nt.tr.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("server: stop transport %s: %w", nt.name, err)
		}
	}
	s.wg.Wait()
	s.sessions.CloseAll()

	s.log.Info("server stopped", slog.String("server_id", s.id))
	return firstErr
}

// Close stops the server if needed and releases it permanently. Closing a
// closed server is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	running := s.state == stateRunning
	s.mu.Unlock()

	var err error
	if running {
		err = s.Stop()
	}

	s.mu.Lock()
	s.state = stateClosed
	s.queue = nil
	s.mu.Unlock()
	return err
}

// Stats returns the aggregate counters across transports and dispatcher.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		RequestsProcessed: s.requestsProcessed,
		Errors:            s.serverErrors,
	}
	if s.state == stateRunning {
		st.Uptime = time.Since(s.startedAt)
	}
	transports := s.transports
	s.mu.Unlock()

	for _, nt := range transports {
		ts := nt.tr.Stats()
		st.MessagesReceived += ts.MessagesReceived
		st.MessagesSent += ts.MessagesSent
		st.Errors += ts.Errors
		st.ActiveConnections += ts.ActiveConnections
	}
	executed, dispatchErrors := s.dispatcher.Counters()
	st.ToolsExecuted = executed
	st.Errors += dispatchErrors
	return st
}

// ResetStats zeroes every counter the server aggregates. Uptime and active
// connections are recomputed, not reset.
func (s *Server) ResetStats() {
	s.mu.Lock()
	s.requestsProcessed = 0
	s.serverErrors = 0
	transports := s.transports
	s.mu.Unlock()

	s.dispatcher.ResetCounters()
	for _, nt := range transports {
		nt.tr.ResetStats()
	}
}

func (s *Server) registerBuiltins() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(s.dispatcher.RegisterMethod(string(mcp.InitializeMethod), s.handleInitialize))
	must(s.dispatcher.RegisterMethod(string(mcp.PingMethod), s.handlePing))
	must(s.dispatcher.RegisterMethod(string(mcp.EchoMethod), s.handleEcho))
}

func (s *Server) handleInitialize(ctx context.Context, session *sessions.Session, params json.RawMessage) (any, *jsonrpc.Error) {
	var req mcp.InitializeRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidParams, Message: "Invalid initialize params"}
		}
	}
	s.log.InfoContext(ctx, "client initialized",
		slog.String("client", req.ClientInfo.Name),
		slog.String("client_version", req.ClientInfo.Version),
		slog.String("protocol_version", req.ProtocolVersion))
	return mcp.InitializeResult{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo: s.info,
	}, nil
}

func (s *Server) handlePing(ctx context.Context, session *sessions.Session, params json.RawMessage) (any, *jsonrpc.Error) {
	return "pong", nil
}

// handleEcho returns the request params verbatim.
func (s *Server) handleEcho(ctx context.Context, session *sessions.Session, params json.RawMessage) (any, *jsonrpc.Error) {
	if len(params) == 0 {
		return json.RawMessage("null"), nil
	}
	return params, nil
}

func (s *Server) installCallbacks(nt *namedTransport) {
	nt.tr.OnMessage(func(ctx context.Context, conn transport.ConnID, payload []byte) {
		s.enqueue(nt, conn, payload)
	})
	nt.tr.OnEvent(func(ev transport.Event) {
		s.handleEvent(nt, ev)
	})
}

func (s *Server) handleEvent(nt *namedTransport, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		if _, err := s.sessions.Open(context.Background(), nt.tr, ev.Conn); err != nil {
			s.log.Warn("session open failed",
				slog.String("transport", nt.name),
				slog.Uint64("conn", uint64(ev.Conn)),
				slog.String("error", err.Error()))
			s.countError()
		}
	case transport.EventDisconnected:
		s.sessions.Close(nt.tr, ev.Conn)
	case transport.EventError:
		if ev.Err != nil {
			s.log.Warn("transport error",
				slog.String("transport", nt.name),
				slog.String("error", ev.Err.Error()))
		}
	}
}

func (s *Server) enqueue(nt *namedTransport, conn transport.ConnID, payload []byte) {
	env := jsonrpc.NewEnvelope(payload)
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	queue := s.queue
	s.mu.Unlock()

	select {
	case queue <- inboundMsg{tr: nt, conn: conn, env: env}:
	default:
		s.countError()
		s.log.Warn("inbound queue full, message dropped",
			slog.String("transport", nt.name),
			slog.Uint64("conn", uint64(conn)),
			slog.Uint64("seq", env.Seq))
	}
}

func (s *Server) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.queue:
			s.process(msg)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) process(msg inboundMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), ResponseTimeout)
	defer cancel()

	env := msg.env
	session := s.sessions.Get(msg.tr.tr, msg.conn)
	sessionID := ""
	if session != nil {
		sessionID = session.ID()
	}
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{
		Transport: msg.tr.name,
		ConnID:    uint64(msg.conn),
		SessionID: sessionID,
	})

	if !env.Valid() {
		// Advisory only: flag the corruption, still attempt the parse.
		s.log.WarnContext(ctx, "checksum mismatch on inbound message",
			slog.Uint64("seq", env.Seq))
	}

	parsed, err := jsonrpc.Parse(env.Raw)
	if err != nil {
		s.countError()
		s.log.WarnContext(ctx, "parse failed", slog.String("error", err.Error()))
		s.respond(ctx, msg.tr, msg.conn, session,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "Parse error", nil))
		return
	}

	msgType := parsed.Type()
	rpcID := ""
	if parsed.ID != nil {
		rpcID = strconv.FormatUint(*parsed.ID, 10)
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: parsed.Method,
		ID:     rpcID,
		Type:   msgType.String(),
	})

	switch msgType {
	case jsonrpc.MessageRequest, jsonrpc.MessageNotification:
		s.mu.Lock()
		s.requestsProcessed++
		s.mu.Unlock()
		resp := s.dispatcher.Dispatch(ctx, session, parsed.AsRequest())
		if resp != nil {
			s.respond(ctx, msg.tr, msg.conn, session, resp)
		}
	case jsonrpc.MessageResponse, jsonrpc.MessageErrorResponse:
		// This server issues no outbound requests, so inbound responses
		// have nothing to correlate with.
		s.log.DebugContext(ctx, "ignoring unsolicited response")
	default:
		s.countError()
		s.log.WarnContext(ctx, "invalid message")
		s.respond(ctx, msg.tr, msg.conn, session,
			jsonrpc.NewErrorResponse(parsed.ID, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request", nil))
	}
}

func (s *Server) respond(ctx context.Context, nt *namedTransport, conn transport.ConnID, session *sessions.Session, resp *jsonrpc.Response) {
	wire, err := resp.Encode()
	if err != nil {
		s.countError()
		s.log.ErrorContext(ctx, "response encode failed", slog.String("error", err.Error()))
		return
	}
	if session != nil {
		err = session.SendMessage(wire)
	} else {
		err = nt.tr.Send(conn, wire)
	}
	if err != nil {
		s.countError()
		s.log.WarnContext(ctx, "response send failed", slog.String("error", err.Error()))
	}
}

// statsLoop periodically snapshots the aggregate counters so operators get
// a heartbeat with uptime and connection counts even when traffic is idle.
func (s *Server) statsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := s.Stats()
			s.log.Debug("stats refresh",
				slog.Duration("uptime", st.Uptime),
				slog.Int("active_connections", st.ActiveConnections),
				slog.Uint64("messages_received", st.MessagesReceived),
				slog.Uint64("messages_sent", st.MessagesSent),
				slog.Uint64("requests_processed", st.RequestsProcessed),
				slog.Uint64("tools_executed", st.ToolsExecuted),
				slog.Uint64("errors", st.Errors))
		case <-s.stop:
			return
		}
	}
}

func (s *Server) countError() {
	s.mu.Lock()
	s.serverErrors++
	s.mu.Unlock()
}
