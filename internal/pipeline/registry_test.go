package pipeline

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execLog records stage execution order.
type execLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *execLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *execLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func recordingFactory(log *execLog, name string) Factory {
	return func() (Middleware, error) {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				log.add(name)
				next.ServeHTTP(w, r)
			})
		}, nil
	}
}

func blockingFactory(log *execLog, name string) Factory {
	return func() (Middleware, error) {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				log.add(name)
				w.WriteHeader(http.StatusForbidden)
			})
		}, nil
	}
}

func terminalHandler(log *execLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		log.add("terminal")
		w.WriteHeader(http.StatusOK)
	})
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithMetrics(newMetrics("test", prometheus.NewRegistry()))}, opts...)
	return NewRegistry(opts...)
}

func serve(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		priorities map[string]int
		input      []string
		want       []string
	}{
		{
			name:       "sorted by priority descending",
			priorities: map[string]int{"a": 10, "b": 50, "c": 30},
			input:      []string{"a", "b", "c"},
			want:       []string{"b", "c", "a"},
		},
		{
			name:       "unprioritized appended in original order",
			priorities: map[string]int{"a": 10, "b": 50},
			input:      []string{"x", "a", "y", "b", "z"},
			want:       []string{"b", "a", "x", "y", "z"},
		},
		{
			name:       "ties keep input order",
			priorities: map[string]int{"a": 20, "b": 20, "c": 20},
			input:      []string{"c", "a", "b"},
			want:       []string{"c", "a", "b"},
		},
		{
			name:  "empty",
			input: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRegistry(t)
			log := &execLog{}
			for name, p := range tt.priorities {
				r.Register(name, recordingFactory(log, name), p)
			}

			assert.Equal(t, tt.want, r.Resolve(tt.input))
			assert.Equal(t, r.Resolve(tt.input), r.Resolve(tt.input))
		})
	}
}

func TestRegistry_Build_ExecutionOrder(t *testing.T) {
	t.Parallel()

	log := &execLog{}
	r := newTestRegistry(t)
	r.Register("low", recordingFactory(log, "low"), 10)
	r.Register("high", recordingFactory(log, "high"), 50)
	r.Register("mid", recordingFactory(log, "mid"), 30)

	h, err := r.Build([]string{"low", "high", "mid"}, terminalHandler(log))
	require.NoError(t, err)

	rec := serve(t, h)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"high", "mid", "low", "terminal"}, log.all())
}

func TestRegistry_Build_ShortCircuit(t *testing.T) {
	t.Parallel()

	log := &execLog{}
	metrics := newMetrics("test", prometheus.NewRegistry())
	r := NewRegistry(WithMetrics(metrics))
	r.Register("first", recordingFactory(log, "first"), 30)
	r.Register("second", blockingFactory(log, "second"), 20)
	r.Register("third", recordingFactory(log, "third"), 10)
	r.DefineGroup("g", "first", "second", "third")

	rec := serve(t, r.Handler("g", terminalHandler(log)))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, []string{"first", "second"}, log.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.shortCircuits.WithLabelValues("g", "second")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.shortCircuits.WithLabelValues("g", "first")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.stageInvocations.WithLabelValues("g", "first")))
}

func TestRegistry_UnknownStage(t *testing.T) {
	t.Parallel()

	t.Run("permissive skips", func(t *testing.T) {
		t.Parallel()

		log := &execLog{}
		r := newTestRegistry(t)
		r.Register("known", recordingFactory(log, "known"), 10)

		h, err := r.Build([]string{"missing", "known"}, terminalHandler(log))
		require.NoError(t, err)
		serve(t, h)

		assert.Equal(t, []string{"known", "terminal"}, log.all())
	})

	t.Run("strict fails", func(t *testing.T) {
		t.Parallel()

		log := &execLog{}
		r := newTestRegistry(t, WithMode(ModeStrict))
		r.Register("known", recordingFactory(log, "known"), 10)

		_, err := r.Build([]string{"missing", "known"}, terminalHandler(log))
		assert.ErrorIs(t, err, ErrUnknownStage)
	})

	t.Run("strict handler answers 500", func(t *testing.T) {
		t.Parallel()

		log := &execLog{}
		r := newTestRegistry(t, WithMode(ModeStrict))

		rec := serve(t, r.Handler(GroupWeb, terminalHandler(log)))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, log.all())
	})
}

func TestRegistry_GroupNotFound(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	_, err := r.BuildGroup("reports", http.NotFoundHandler())
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestRegistry_ContainerPrecedence(t *testing.T) {
	t.Parallel()

	log := &execLog{}
	container := NewContainer()
	container.Provide("stage", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.add("from-container")
			next.ServeHTTP(w, r)
		})
	})

	r := newTestRegistry(t, WithContainer(container))
	r.Register("stage", recordingFactory(log, "from-factory"), 10)

	assert.True(t, r.Has("stage"))

	h, err := r.Build([]string{"stage"}, terminalHandler(log))
	require.NoError(t, err)
	serve(t, h)

	assert.Equal(t, []string{"from-container", "terminal"}, log.all())
}

type wrapStage struct{ log *execLog }

func (s wrapStage) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.add("wrap-stage")
		next.ServeHTTP(w, r)
	})
}

func TestRegistry_ContainerInstanceTypes(t *testing.T) {
	t.Parallel()

	log := &execLog{}
	container := NewContainer()
	container.Provide("stage", wrapStage{log: log})
	container.Provide("bogus", 42)

	r := newTestRegistry(t, WithContainer(container))

	h, err := r.Build([]string{"stage"}, terminalHandler(log))
	require.NoError(t, err)
	serve(t, h)
	assert.Equal(t, []string{"wrap-stage", "terminal"}, log.all())

	_, err = r.Build([]string{"bogus"}, terminalHandler(log))
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := newTestRegistry(t)
	r.Register("broken", func() (Middleware, error) { return nil, boom }, 10)

	_, err := r.Build([]string{"broken"}, http.NotFoundHandler())
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_HandlerRebuildsAfterMutation(t *testing.T) {
	t.Parallel()

	log := &execLog{}
	builds := 0
	r := newTestRegistry(t)
	r.Register("counted", func() (Middleware, error) {
		builds++
		return recordingFactory(log, "counted")()
	}, 10)
	r.DefineGroup("g", "counted", "late")

	h := r.Handler("g", terminalHandler(log))
	serve(t, h)
	serve(t, h)
	assert.Equal(t, 1, builds, "chain is cached between requests")

	r.Register("late", recordingFactory(log, "late"), 20)
	serve(t, h)
	assert.Equal(t, 2, builds)

	r.Unregister("late")
	serve(t, h)
	assert.Equal(t, 3, builds)

	assert.Equal(t, []string{
		"counted", "terminal",
		"counted", "terminal",
		"late", "counted", "terminal",
		"counted", "terminal",
	}, log.all())
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	r.Register("x", recordingFactory(&execLog{}, "x"), 10)
	before := r.Version()

	r.Unregister("x")

	assert.False(t, r.Has("x"))
	assert.Greater(t, r.Version(), before)
	assert.Equal(t, []string{"y", "x"}, r.Resolve([]string{"y", "x"}), "priority entry is removed too")
}

func TestRegistry_Snapshot(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	for name, p := range DefaultPriorities() {
		r.Register(name, recordingFactory(&execLog{}, name), p)
	}

	snap := r.Snapshot()

	assert.Equal(t, ModePermissive, snap.Mode)
	require.Len(t, snap.Stages, 8)
	assert.Equal(t, StageCSRF, snap.Stages[0].Name)
	assert.Equal(t, StageInputSanitizer, snap.Stages[7].Name)
	assert.Equal(t,
		[]string{StageRateLimit, StageAuth, StageCORS, StageJSONParser, StageInputSanitizer},
		snap.Groups[GroupAPI])
	assert.Equal(t, []string{StageSecurityHeaders, StageAuth, StageAdmin}, snap.Groups[GroupAdmin])
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: ModePermissive},
		{in: "permissive", want: ModePermissive},
		{in: "STRICT", want: ModeStrict},
		{in: "lenient", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestConcurrentRegisterAndServe(t *testing.T) {
	t.Parallel()

	log := &execLog{}
	r := newTestRegistry(t)
	r.DefineGroup("g", "a", "b")
	h := r.Handler("g", terminalHandler(log))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("a", recordingFactory(log, "a"), 10)
			r.Unregister("b")
		}()
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()
}
