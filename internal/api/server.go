package api

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"grimm.is/aclsync/internal/acl"
	"grimm.is/aclsync/internal/attach"
	"grimm.is/aclsync/internal/clock"
	"grimm.is/aclsync/internal/errors"
	"grimm.is/aclsync/internal/events"
	"grimm.is/aclsync/internal/health"
	"grimm.is/aclsync/internal/logging"
	"grimm.is/aclsync/internal/metrics"
	"grimm.is/aclsync/internal/network"
	"grimm.is/aclsync/internal/ratelimit"
	"grimm.is/aclsync/internal/reconcile"
	"grimm.is/aclsync/internal/state"
)

// ServerConfig holds HTTP server timeouts and limits.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      1 << 20,
	}
}

// Engine is the part of the ACL engine the API reads.
type Engine interface {
	ShowCounters(f acl.Filter) *acl.CountersReport
	ClearCounters(f acl.Filter) error
	Dump(w io.Writer)
	Groups() []acl.GroupStatus
	Pending() (deferrals, commitPending bool)
}

// PointLister lists attach points.
type PointLister interface {
	Points() []attach.PointInfo
}

// LinkLister lists the links the monitor tracks.
type LinkLister interface {
	Links() []network.LinkStatus
}

// Journal is the transaction journal as the API sees it.
type Journal interface {
	TxnSubscriber
	List(ctx context.Context, limit int) ([]state.Txn, error)
	Last(ctx context.Context) (state.Txn, error)
}

// LogSource holds recent daemon log lines.
type LogSource interface {
	Query(q logging.Query) []logging.Record
}

// ReloadFunc re-reads and applies the configuration.
type ReloadFunc func(ctx context.Context) (*reconcile.Result, error)

// ServerOptions holds dependencies for the API server. Only Engine is
// required.
type ServerOptions struct {
	Engine  Engine
	Points  PointLister
	Links   LinkLister
	Journal Journal
	Hub     *events.Hub
	Reload  ReloadFunc
	Logs    LogSource
	Health  *health.Checker
	Metrics *metrics.Registry
	APIKey  string
	// TLS, when set, makes Serve speak HTTPS with this certificate.
	TLS     *tls.Certificate
	Backend string
	Version string
	Logger  *logging.Logger
}

// Server handles API requests.
type Server struct {
	opts      ServerOptions
	log       *logging.Logger
	ws        *WSManager
	startTime time.Time
	mux       *http.ServeMux
	handler   http.Handler
	authFails *ratelimit.Limiter
}

// NewServer creates a new API server with the provided options
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New(errors.KindValidation, "api server needs an engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Health == nil {
		opts.Health = health.NewChecker(5 * time.Second)
	}

	s := &Server{
		opts:      opts,
		log:       logger.WithComponent("api"),
		startTime: clock.Now(),
		authFails: ratelimit.NewLimiter(maxAuthFailures, time.Minute),
	}
	if opts.Hub != nil || opts.Journal != nil {
		var journal TxnSubscriber
		if opts.Journal != nil {
			journal = opts.Journal
		}
		ws, err := NewWSManager(opts.Hub, journal, s.log)
		if err != nil {
			return nil, err
		}
		s.ws = ws
	}
	s.initRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("POST /api/counters/clear", s.handleClearCounters)
	mux.HandleFunc("GET /api/dump", s.handleDump)
	mux.HandleFunc("GET /api/groups", s.handleGroups)
	mux.HandleFunc("GET /api/points", s.handlePoints)
	mux.HandleFunc("GET /api/links", s.handleLinks)
	mux.HandleFunc("GET /api/journal", s.handleJournal)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/ws/events", s.handleEventsWS)

	mux.HandleFunc("GET /healthz", s.opts.Health.Handler())
	mux.HandleFunc("GET /readyz", s.opts.Health.ReadinessHandler())
	mux.HandleFunc("GET /livez", health.LivenessHandler())
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	s.mux = mux
	s.handler = AccessLogger(s.log, s.opts.Metrics, requireKey(s.opts.APIKey, s.authFails, mux))
}

// Handler returns the HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve serves on l until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	cfg := DefaultServerConfig()
	srv := &http.Server{
		Handler:           http.MaxBytesHandler(s.handler, cfg.MaxBodyBytes),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	s.authFails.StartCleanup(ctx, time.Minute)
	if s.opts.TLS != nil {
		l = tls.NewListener(l, &tls.Config{
			Certificates: []tls.Certificate{*s.opts.TLS},
			MinVersion:   tls.VersionTLS12,
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	s.log.Info("API listening", "addr", l.Addr().String(), "tls", s.opts.TLS != nil)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	err := srv.Shutdown(shutdownCtx)
	if serr := <-errCh; serr != nil && !stderrors.Is(serr, http.ErrServerClosed) && err == nil {
		err = serr
	}
	return err
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, l)
}

// Close stops the websocket manager.
func (s *Server) Close() {
	if s.ws != nil {
		s.ws.Close()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deferrals, pending := s.opts.Engine.Pending()
	groups := s.opts.Engine.Groups()
	resp := StatusResponse{
		Status:        "online",
		Version:       s.opts.Version,
		Backend:       s.opts.Backend,
		StartedAt:     s.startTime,
		Uptime:        clock.Since(s.startTime).Round(time.Second).String(),
		Deferrals:     deferrals,
		CommitPending: pending,
		Groups:        len(groups),
	}
	for _, g := range groups {
		if g.Published {
			resp.GroupsPublished++
		}
	}
	if s.opts.Points != nil {
		resp.Points = len(s.opts.Points.Points())
	}
	if s.opts.Links != nil {
		resp.Links = len(s.opts.Links.Links())
	}
	if s.opts.Journal != nil {
		if last, err := s.opts.Journal.Last(r.Context()); err == nil {
			resp.LastTxn = &last
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// filterFromQuery reads interface, direction and group parameters.
func filterFromQuery(r *http.Request) (acl.Filter, error) {
	q := r.URL.Query()
	f := acl.Filter{
		Interface: q.Get("interface"),
		Direction: q.Get("direction"),
		Group:     q.Get("group"),
	}
	if _, err := acl.ParseDirection(f.Direction); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, s.opts.Engine.ShowCounters(f))
}

func (s *Server) handleClearCounters(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}
	if err := s.opts.Engine.ClearCounters(f); err != nil {
		s.log.Error("Clearing counters failed", "error", err, "ifname", f.Interface, "dir", f.Direction, "group", f.Group)
		WriteError(w, http.StatusBadGateway, "Failed to clear counters", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, ClearResponse{Cleared: true, Filter: f})
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	s.opts.Engine.Dump(&buf)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.opts.Engine.Groups())
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	out := []PointResponse{}
	if s.opts.Points != nil {
		for _, p := range s.opts.Points.Points() {
			out = append(out, pointResponse(p))
		}
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	out := []network.LinkStatus{}
	if s.opts.Links != nil {
		out = s.opts.Links.Links()
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		WriteError(w, http.StatusServiceUnavailable, "Journal not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "Invalid limit", v)
			return
		}
		limit = n
	}
	txns, err := s.opts.Journal.List(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to read journal", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, txns)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		WriteError(w, http.StatusServiceUnavailable, "Log buffer not enabled")
		return
	}
	params := r.URL.Query()
	q := logging.Query{
		Source:    params.Get("source"),
		Interface: params.Get("ifname"),
		Group:     params.Get("group"),
		MinLevel:  params.Get("level"),
		Limit:     100,
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "Invalid limit", v)
			return
		}
		q.Limit = n
	}
	if q.MinLevel != "" && !logging.ValidLevel(q.MinLevel) {
		WriteError(w, http.StatusBadRequest, "Invalid level", q.MinLevel)
		return
	}
	WriteJSON(w, http.StatusOK, s.opts.Logs.Query(q))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		WriteError(w, http.StatusServiceUnavailable, "Reload not enabled")
		return
	}
	res, err := s.opts.Reload(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.IsKind(err, errors.KindValidation) || errors.IsKind(err, errors.KindConflict) {
			code = http.StatusUnprocessableEntity
		}
		details := err.Error()
		if res != nil {
			WriteJSON(w, code, struct {
				ErrorResponse
				ReloadResponse
			}{ErrorResponse{Error: "Reload failed", Details: details}, ReloadResponse{Txn: res.Txn, Changes: res.Changes}})
			return
		}
		WriteError(w, code, "Reload failed", details)
		return
	}
	WriteJSON(w, http.StatusOK, ReloadResponse{Txn: res.Txn, Changes: res.Changes})
}
