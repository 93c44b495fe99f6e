package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Pipeline errors.
var (
	ErrUnknownStage  = errors.New("unknown pipeline stage")
	ErrGroupNotFound = errors.New("pipeline group not found")
	ErrInvalidStage  = errors.New("invalid pipeline stage instance")
)

// Middleware wraps the next handler. Not calling next ends the request.
type Middleware func(next http.Handler) http.Handler

// Factory builds a stage instance.
type Factory func() (Middleware, error)

// Registry holds stage factories, priorities and groups.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	priorities map[string]int
	groups     map[string][]string
	container  Container
	mode       Mode
	version    atomic.Uint64

	logger  observability.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMode sets the unknown stage handling mode.
func WithMode(mode Mode) Option {
	return func(r *Registry) {
		r.mode = mode
	}
}

// WithContainer sets the instance container.
func WithContainer(c Container) Option {
	return func(r *Registry) {
		r.container = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = tracer
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a registry with the default groups defined and no
// stages registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories:  make(map[string]Factory),
		priorities: make(map[string]int),
		groups:     DefaultGroups(),
		mode:       ModePermissive,
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer("govgate/pipeline"),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.metrics == nil {
		r.metrics = GetPipelineMetrics()
	}

	return r
}

// Register stores the factory and priority for name, replacing any
// previous registration.
func (r *Registry) Register(name string, factory Factory, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
	r.priorities[name] = priority
	r.version.Add(1)
}

// Unregister removes the factory and priority of name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, name)
	delete(r.priorities, name)
	r.version.Add(1)
}

// Has reports whether a stage can be built for name, either from the
// container or from a registered factory.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hasLocked(name)
}

func (r *Registry) hasLocked(name string) bool {
	if r.container != nil && r.container.Has(name) {
		return true
	}
	_, ok := r.factories[name]
	return ok
}

// DefineGroup sets the stages of group, replacing any previous definition.
func (r *Registry) DefineGroup(group string, stages ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[group] = append([]string(nil), stages...)
	r.version.Add(1)
}

// Group returns the stage names of group as defined.
func (r *Registry) Group(group string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages, ok := r.groups[group]
	if !ok {
		return nil, false
	}
	return append([]string(nil), stages...), true
}

// SetContainer replaces the instance container.
func (r *Registry) SetContainer(c Container) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.container = c
	r.version.Add(1)
}

// SetMode changes the unknown stage handling mode.
func (r *Registry) SetMode(mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = mode
	r.version.Add(1)
}

// Mode returns the unknown stage handling mode.
func (r *Registry) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Version returns a counter incremented by every mutation.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Resolve orders names for execution: names with a priority sorted by
// priority descending with ties in input order, followed by the names
// without a priority in input order.
func (r *Registry) Resolve(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(names)
}

func (r *Registry) resolveLocked(names []string) []string {
	known := make([]string, 0, len(names))
	var unknown []string
	for _, name := range names {
		if _, ok := r.priorities[name]; ok {
			known = append(known, name)
		} else {
			unknown = append(unknown, name)
		}
	}

	sort.SliceStable(known, func(i, j int) bool {
		return r.priorities[known[i]] > r.priorities[known[j]]
	})

	return append(known, unknown...)
}

// Build composes the named stages around terminal.
func (r *Registry) Build(names []string, terminal http.Handler) (http.Handler, error) {
	return r.build("", names, terminal)
}

// BuildGroup composes the stages of group around terminal.
func (r *Registry) BuildGroup(group string, terminal http.Handler) (http.Handler, error) {
	r.mu.RLock()
	stages, ok := r.groups[group]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	return r.build(group, stages, terminal)
}

func (r *Registry) build(group string, names []string, terminal http.Handler) (http.Handler, error) {
	stages, err := r.instantiate(group, names)
	if err != nil {
		return nil, err
	}

	handler := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		handler = r.instrument(group, stages[i].name, stages[i].mw, handler)
	}

	r.metrics.chainBuilds.WithLabelValues(groupLabel(group)).Inc()
	return handler, nil
}

type resolvedStage struct {
	name string
	mw   Middleware
}

// instantiate resolves names and creates their instances under the read
// lock, so a concurrent Register cannot tear the priority map mid-sort.
func (r *Registry) instantiate(group string, names []string) ([]resolvedStage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.resolveLocked(names)
	stages := make([]resolvedStage, 0, len(ordered))

	for _, name := range ordered {
		if !r.hasLocked(name) {
			if r.mode == ModeStrict {
				return nil, fmt.Errorf("%w: %q in group %q", ErrUnknownStage, name, group)
			}
			r.logger.Warn("skipping unregistered pipeline stage",
				observability.String("stage", name),
				observability.String("group", group),
			)
			r.metrics.stagesSkipped.WithLabelValues(groupLabel(group), name).Inc()
			continue
		}

		mw, err := r.instanceLocked(name)
		if err != nil {
			return nil, fmt.Errorf("failed to build stage %s: %w", name, err)
		}
		stages = append(stages, resolvedStage{name: name, mw: mw})
	}

	return stages, nil
}

// instanceLocked prefers the container over the factory.
func (r *Registry) instanceLocked(name string) (Middleware, error) {
	if r.container != nil && r.container.Has(name) {
		instance, err := r.container.Get(name)
		if err != nil {
			return nil, err
		}
		return asMiddleware(name, instance)
	}

	mw, err := r.factories[name]()
	if err != nil {
		return nil, err
	}
	if mw == nil {
		return nil, fmt.Errorf("%w: %s factory returned nil", ErrInvalidStage, name)
	}
	return mw, nil
}

// StageInfo describes one stage for diagnostics.
type StageInfo struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Mode    Mode                `json:"mode"`
	Version uint64              `json:"version"`
	Stages  []StageInfo         `json:"stages"`
	Groups  map[string][]string `json:"groups"`
}

// Snapshot returns the registered stages in priority order, and every
// group in resolved execution order.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	stages := make([]StageInfo, 0, len(names))
	for _, name := range r.resolveLocked(names) {
		stages = append(stages, StageInfo{Name: name, Priority: r.priorities[name]})
	}

	groups := make(map[string][]string, len(r.groups))
	for group, members := range r.groups {
		groups[group] = r.resolveLocked(members)
	}

	return Snapshot{
		Mode:    r.mode,
		Version: r.version.Load(),
		Stages:  stages,
		Groups:  groups,
	}
}

// Handler returns a handler serving group in front of terminal. The chain
// is built on first use and rebuilt whenever the registry version changes.
func (r *Registry) Handler(group string, terminal http.Handler) http.Handler {
	return &groupHandler{
		registry: r,
		group:    group,
		terminal: terminal,
	}
}

type builtChain struct {
	version uint64
	handler http.Handler
	err     error
}

type groupHandler struct {
	registry *Registry
	group    string
	terminal http.Handler
	cached   atomic.Pointer[builtChain]
}

func (h *groupHandler) chain() *builtChain {
	version := h.registry.Version()
	if c := h.cached.Load(); c != nil && c.version == version {
		return c
	}

	handler, err := h.registry.BuildGroup(h.group, h.terminal)
	c := &builtChain{version: version, handler: handler, err: err}
	h.cached.Store(c)
	return c
}

func (h *groupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := h.chain()
	if c.err != nil {
		h.registry.logger.WithContext(r.Context()).Error("failed to build pipeline",
			observability.String("group", h.group),
			observability.Error(c.err),
		)
		util.WriteFailure(w, r, http.StatusInternalServerError,
			"Internal Server Error", "The request could not be processed.")
		return
	}
	c.handler.ServeHTTP(w, r)
}

func groupLabel(group string) string {
	if group == "" {
		return "adhoc"
	}
	return group
}
