package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jroosing/hydranamed/internal/config"
	"github.com/jroosing/hydranamed/internal/keyring"
	"github.com/jroosing/hydranamed/internal/logging"
	"github.com/jroosing/hydranamed/internal/metrics"
	"github.com/jroosing/hydranamed/internal/store"
	"github.com/jroosing/hydranamed/internal/view"
	"github.com/jroosing/hydranamed/internal/zone"
	"github.com/jroosing/hydranamed/internal/zonemgr"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// Phase is the server lifecycle stage.
type Phase int32

const (
	PhaseInitializing Phase = iota
	PhaseStarting
	PhaseBuildingConfiguration
	PhaseRunning
	PhaseReconfiguring
	PhaseShuttingDown
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseStarting:
		return "starting"
	case PhaseBuildingConfiguration:
		return "building-configuration"
	case PhaseRunning:
		return "running"
	case PhaseReconfiguring:
		return "reconfiguring"
	case PhaseShuttingDown:
		return "shutting-down"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Loader reads a configuration file.
type Loader interface {
	Load(path string) (*config.Config, error)
}

// Options configure a Server.
type Options struct {
	ConfigPath string
	Loader     Loader // defaults to config.FileLoader
	Logger     *slog.Logger

	// Refresher transfers slave and stub zones. Nil leaves them unloaded.
	Refresher zonemgr.Refresher

	// DisableListeners skips opening sockets; listen-on is still validated.
	DisableListeners bool
	// Addresses overrides interface enumeration for wildcard listen-on.
	Addresses AddressLister

	// LoadConcurrency bounds parallel zone loads (default GOMAXPROCS).
	LoadConcurrency int
	// ShutdownTimeout bounds the wait for in-flight queries (default 5s).
	ShutdownTimeout time.Duration
}

// Status summarizes the server for the management API.
type Status struct {
	Phase         string    `json:"phase"`
	Generation    string    `json:"generation"`
	Views         int       `json:"views"`
	Zones         int       `json:"zones"`
	ManagedZones  int       `json:"managed_zones"`
	Started       time.Time `json:"started"`
	LastReload    time.Time `json:"last_reload"`
	LastError     string    `json:"last_error,omitempty"`
	Listening     []string  `json:"listening"`
	QueriesTotal  uint64    `json:"queries_total"`
	QueriesActive int64     `json:"queries_active"`
}

type requestKind int

const (
	reqReconfigure requestKind = iota + 1
	reqShutdown
)

type request struct {
	kind requestKind
	done chan error
}

// Server owns the shared state and drives the lifecycle. Run consumes
// lifecycle requests on a single goroutine; every configuration change
// happens there.
type Server struct {
	opts   Options
	logger *slog.Logger
	loader Loader

	state      *State
	zonemgr    *zonemgr.Manager
	reconciler *ZoneReconciler
	builder    *ViewBuilder
	stores     *store.Pool
	clients    *ClientManager
	ifaces     *InterfaceManager
	handler    atomic.Pointer[QueryHandler]
	tkey       atomic.Pointer[keyring.TKEYContext]

	phase    atomic.Int32
	requests chan request
	ready    chan struct{}
	stopped  chan struct{}

	mu         sync.Mutex
	started    time.Time
	lastReload time.Time
	lastErr    error
}

// New creates a server in the Initializing phase. Nothing is loaded until
// Run.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Loader == nil {
		opts.Loader = config.FileLoader{}
	}
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = runtime.GOMAXPROCS(0)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	state, err := NewState()
	if err != nil {
		return nil, err
	}
	zm := zonemgr.New(zonemgr.Config{Logger: opts.Logger, Refresher: opts.Refresher})
	s := &Server{
		opts:       opts,
		logger:     opts.Logger,
		loader:     opts.Loader,
		state:      state,
		zonemgr:    zm,
		reconciler: NewZoneReconciler(state, zm, opts.Logger),
		builder:    NewViewBuilder(state.Hints(), opts.Logger),
		stores:     store.NewPool(),
		requests:   make(chan request),
		ready:      make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	s.phase.Store(int32(PhaseInitializing))
	return s, nil
}

// State returns the shared server state.
func (s *Server) State() *State { return s.state }

// Views returns the production view list attached for the caller, who must
// Release it.
func (s *Server) Views() *view.List { return s.state.Views() }

// ZoneManager returns the zone manager.
func (s *Server) ZoneManager() *zonemgr.Manager { return s.zonemgr }

// Handler returns the query handler serving the production generation. It is
// nil before Run.
func (s *Server) Handler() *QueryHandler { return s.handler.Load() }

// Ready is closed once Run has finished starting, successfully or not.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Done is closed when Run returns.
func (s *Server) Done() <-chan struct{} { return s.stopped }

// Phase returns the current lifecycle phase.
func (s *Server) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Server) setPhase(p Phase) {
	s.phase.Store(int32(p))
	s.logger.Debug("phase", "phase", p.String())
}

// Run starts the server and serves lifecycle requests until shutdown is
// requested or ctx is cancelled. A failed start returns an error wrapping
// ErrFatal.
func (s *Server) Run(ctx context.Context) error {
	if !s.phase.CompareAndSwap(int32(PhaseInitializing), int32(PhaseStarting)) {
		return fmt.Errorf("run: %w", ErrInvalidPhase)
	}
	defer close(s.stopped)

	if err := s.start(ctx); err != nil {
		logging.Critical(s.logger, "loading configuration failed", "file", s.opts.ConfigPath, "err", err)
		s.shutdown()
		close(s.ready)
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case req := <-s.requests:
			switch req.kind {
			case reqReconfigure:
				req.done <- s.reconfigure(ctx)
			case reqShutdown:
				s.shutdown()
				req.done <- nil
				return nil
			}
		}
	}
}

func (s *Server) start(ctx context.Context) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	s.clients = NewClientManager()
	handler := &QueryHandler{Logger: s.logger, State: s.state, Clients: s.clients}
	s.handler.Store(handler)
	s.ifaces = NewInterfaceManager(InterfaceConfig{
		Logger:    s.logger,
		Handler:   handler,
		State:     s.state,
		Disabled:  s.opts.DisableListeners,
		Addresses: s.opts.Addresses,
	})

	s.setPhase(PhaseBuildingConfiguration)
	if err := s.loadConfiguration(ctx); err != nil {
		return err
	}
	s.setPhase(PhaseRunning)
	s.logger.Info("running")
	return nil
}

// Reconfigure asks the lifecycle goroutine to reload the configuration and
// waits for the result. On failure the previous configuration stays active.
func (s *Server) Reconfigure(ctx context.Context) error {
	return s.send(ctx, reqReconfigure)
}

// Shutdown asks the lifecycle goroutine to stop and waits until it has.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.send(ctx, reqShutdown)
}

func (s *Server) send(ctx context.Context, kind requestKind) error {
	switch s.Phase() {
	case PhaseRunning, PhaseReconfiguring:
	default:
		return fmt.Errorf("%s: %w", s.Phase(), ErrInvalidPhase)
	}
	req := request{kind: kind, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.stopped:
		return ErrInvalidPhase
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) reconfigure(ctx context.Context) error {
	if !s.phase.CompareAndSwap(int32(PhaseRunning), int32(PhaseReconfiguring)) {
		return fmt.Errorf("reconfigure: %w", ErrInvalidPhase)
	}
	defer s.setPhase(PhaseRunning)

	s.logger.Info("reloading configuration", "file", s.opts.ConfigPath)
	if err := s.loadConfiguration(ctx); err != nil {
		logging.Critical(s.logger, "reloading configuration failed",
			"file", s.opts.ConfigPath, "err", err)
		s.logger.Warn("previous configuration remains active")
		return err
	}
	s.logger.Info("reloading configuration succeeded")
	return nil
}

// loadConfiguration builds a new generation from the configuration file and
// publishes it. Nothing visible changes unless it succeeds.
func (s *Server) loadConfiguration(ctx context.Context) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		s.recordReload(err)
		if err != nil {
			metrics.ReconfigurationsTotal.WithLabelValues("failure").Inc()
			return
		}
		metrics.ReconfigurationsTotal.WithLabelValues("success").Inc()
		timer.ObserveDuration(metrics.ReconfigurationDuration)
		metrics.LastReconfiguration.SetToCurrentTime()
	}()

	cfg, err := s.loader.Load(s.opts.ConfigPath)
	if err != nil {
		return err
	}

	st, settings, limits, err := s.stageConfiguration(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.release()

	listen, err := parseListen(cfg.ListenOn())
	if err != nil {
		return err
	}
	tkey, err := keyring.NewTKEYContext(cfg.TKEY)
	if err != nil {
		return fmt.Errorf("%w: tkey: %w", config.ErrParse, err)
	}
	installed := false
	defer func() {
		if !installed {
			tkey.Destroy()
		}
	}()

	if err := st.commit(); err != nil {
		return err
	}
	s.loadZones(ctx, st.list)
	s.zonemgr.ForceMaintenance()

	list := st.take()
	old := s.state.Publish(list, settings)
	old.Release()

	if prev := s.tkey.Swap(tkey); prev != nil {
		prev.Destroy()
	}
	installed = true
	s.state.ApplyLimits(limits)

	metrics.ViewsActive.Set(float64(list.Len()))
	metrics.ZonesManaged.Set(float64(s.zonemgr.Count()))
	s.logger.Info("configuration published",
		"generation", list.ID().String(),
		"views", list.Len(),
		"zones", zoneCount(list),
	)

	if err := s.ifaces.Rescan(ctx, listen); err != nil {
		s.logger.Warn("interface rescan incomplete", "err", err)
	}
	return nil
}

// stageConfiguration folds the zone statements into a new stage and builds
// its views. The caller owns the returned stage and must release it.
func (s *Server) stageConfiguration(ctx context.Context, cfg *config.Config) (*stage, *Settings, Limits, error) {
	st := newStage()
	fail := func(err error) (*stage, *Settings, Limits, error) {
		st.release()
		return nil, nil, Limits{}, err
	}

	for stmt := range cfg.ZoneStatements() {
		if err := s.reconciler.Reconcile(st, cfg, stmt); err != nil {
			return fail(err)
		}
	}
	// Views declared without zones still exist.
	for _, vc := range cfg.Views {
		class, err := parseClass(vc.ClassName())
		if err != nil {
			return fail(fmt.Errorf("%w: view %s: %w", zone.ErrConfig, vc.Name, err))
		}
		if _, err := st.view(vc.Name, class); err != nil {
			return fail(err)
		}
	}

	settings, limits, err := configureOptions(cfg)
	if err != nil {
		return fail(err)
	}

	if st.list.Len() == 0 {
		if _, err := st.view(config.DefaultViewName, dns.ClassINET); err != nil {
			return fail(err)
		}
	}
	for _, v := range st.list.Views() {
		if err := s.builder.Build(ctx, v, cfg); err != nil {
			return fail(err)
		}
	}

	text, ok := cfg.VersionText()
	if !ok {
		text = Version
	}
	vv, err := buildVersionView(text)
	if err != nil {
		return fail(err)
	}
	if err := st.list.Append(vv); err != nil {
		vv.Detach()
		return fail(err)
	}
	return st, settings, limits, nil
}

// loadZones reads zone data for every zone of list. Failures are logged per
// zone and leave it unloaded.
func (s *Server) loadZones(ctx context.Context, list *view.List) {
	var g errgroup.Group
	g.SetLimit(s.opts.LoadConcurrency)

	for _, v := range list.Views() {
		for _, z := range v.Zones() {
			g.Go(func() error {
				s.loadZone(ctx, z)
				return nil
			})
		}
	}
	_ = g.Wait()

	// A hint zone replaces the built-in root hints of its view.
	for _, v := range list.Views() {
		for _, z := range v.Zones() {
			if st := z.Settings(); st != nil && st.Type == zone.TypeHint && z.Loaded() && v.Resolver() != nil {
				v.Resolver().SetHints(z.Database())
			}
		}
	}
}

func (s *Server) loadZone(ctx context.Context, z *zone.Zone) {
	src, err := s.sourceFor(z)
	if err != nil {
		metrics.ZoneLoadFailures.Inc()
		s.logger.Error("zone load failed", "zone", z.String(), "err", err)
		return
	}
	if src == nil && z.Loaded() {
		return
	}
	err = z.Load(ctx, src)
	switch {
	case err == nil:
		if db := z.Database(); db != nil {
			s.logger.Info("zone loaded", "zone", z.String(), "serial", db.Serial(), "records", db.Len())
		}
	case errors.Is(err, zone.ErrNoData):
		s.logger.Info("zone has no data yet, refresh scheduled", "zone", z.String())
	default:
		metrics.ZoneLoadFailures.Inc()
		s.logger.Error("zone load failed", "zone", z.String(), "err", err)
	}
}

func (s *Server) sourceFor(z *zone.Zone) (zone.Source, error) {
	st := z.Settings()
	switch {
	case st == nil:
		return nil, nil
	case st.Database != "":
		db, err := s.stores.Get(st.SQLitePath())
		if err != nil {
			return nil, err
		}
		return db.Source(z.Origin(), z.Class()), nil
	case st.File != "":
		return zone.FileSource{Path: st.File, Origin: z.Origin()}, nil
	}
	return nil, nil
}

func (s *Server) recordReload(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReload = time.Now()
	s.lastErr = err
}

// shutdown releases everything in dependency order.
func (s *Server) shutdown() {
	s.setPhase(PhaseShuttingDown)
	s.logger.Info("shutting down")

	s.state.Detach()
	if prev := s.tkey.Swap(nil); prev != nil {
		prev.Destroy()
	}
	if s.clients != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		if err := s.clients.Destroy(ctx); err != nil {
			s.logger.Warn("in-flight queries did not finish", "err", err)
		}
		cancel()
	}
	if s.ifaces != nil {
		s.ifaces.Shutdown()
	}
	s.zonemgr.Shutdown()
	if err := s.stores.Close(); err != nil {
		s.logger.Warn("closing zone stores", "err", err)
	}

	metrics.ViewsActive.Set(0)
	metrics.ZonesManaged.Set(0)
	s.setPhase(PhaseStopped)
	s.logger.Info("exiting")
}

// Status returns a snapshot for reporting.
func (s *Server) Status() Status {
	l := s.state.Views()
	defer l.Release()

	s.mu.Lock()
	st := Status{
		Phase:      s.Phase().String(),
		Generation: l.ID().String(),
		Views:      l.Len(),
		Zones:      zoneCount(l),
		Started:    s.started,
		LastReload: s.lastReload,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.ManagedZones = s.zonemgr.Count()
	if s.ifaces != nil {
		for _, ap := range s.ifaces.Addresses() {
			st.Listening = append(st.Listening, ap.String())
		}
	}
	if s.clients != nil {
		cs := s.clients.Stats()
		st.QueriesTotal, st.QueriesActive = cs.QueriesTotal, cs.InFlight
	}
	return st
}

// Generation returns the identifier of the production generation.
func (s *Server) Generation() uuid.UUID {
	l := s.state.Views()
	defer l.Release()
	return l.ID()
}

func zoneCount(l *view.List) int {
	n := 0
	for _, v := range l.Views() {
		n += v.ZoneCount()
	}
	return n
}

// TKEY returns the installed TKEY context, nil when none is configured.
func (s *Server) TKEY() *keyring.TKEYContext { return s.tkey.Load() }

// CheckConfig stages cfg exactly as a reconfiguration would, without loading
// zone data or publishing anything, and returns the first error.
func CheckConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	s, err := New(Options{Logger: logger, DisableListeners: true})
	if err != nil {
		return err
	}
	defer s.zonemgr.Shutdown()

	st, _, _, err := s.stageConfiguration(ctx, cfg)
	if err != nil {
		return err
	}
	st.release()

	if _, err := parseListen(cfg.ListenOn()); err != nil {
		return err
	}
	tkey, err := keyring.NewTKEYContext(cfg.TKEY)
	if err != nil {
		return fmt.Errorf("%w: tkey: %w", config.ErrParse, err)
	}
	tkey.Destroy()
	return nil
}
