package main

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/govgate/internal/audit"
	"github.com/vyrodovalexey/govgate/internal/config"
	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/pipeline"
)

// reloadMetrics holds Prometheus metrics for configuration reloads. They
// are registered with the /metrics registry.
type reloadMetrics struct {
	reloadTotal       *prometheus.CounterVec
	reloadDuration    prometheus.Histogram
	reloadLastSuccess prometheus.Gauge
	watcherRunning    prometheus.Gauge
	componentTotal    *prometheus.CounterVec
}

func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	ns := observability.DefaultNamespace
	rm := &reloadMetrics{
		reloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		reloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
		),
		reloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of the last successful config reload",
			},
		),
		watcherRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
		componentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "config_reload_component_total",
				Help:      "Total number of component reloads by component and result",
			},
			[]string{"component", "result"},
		),
	}

	for _, c := range []prometheus.Collector{
		rm.reloadTotal,
		rm.reloadDuration,
		rm.reloadLastSuccess,
		rm.watcherRunning,
		rm.componentTotal,
	} {
		m.MustRegisterCollector(c)
	}

	return rm
}

// startConfigWatcher watches configPath and applies reloadable settings
// on every change. Without a config file there is nothing to watch.
func startConfigWatcher(ctx context.Context, app *application, configPath string) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		app.logger.Info("configuration changed, reloading")
		app.applyConfig(ctx, newCfg)
	},
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(err error) {
			app.reload.reloadTotal.WithLabelValues("error").Inc()
		}),
	)
	if err != nil {
		app.logger.Warn("failed to create config watcher", observability.Error(err))
		app.reload.watcherRunning.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		app.logger.Warn("failed to start config watcher", observability.Error(err))
		_ = watcher.Stop()
		app.reload.watcherRunning.Set(0)
		return nil
	}

	app.reload.watcherRunning.Set(1)
	return watcher
}

// applyConfig re-applies the settings that can change at runtime: rate
// limit classes, security header overrides, development mode, pipeline
// mode and stage groups. Everything else needs a restart and only
// produces a warning.
func (app *application) applyConfig(ctx context.Context, newCfg *config.Config) {
	start := time.Now()
	defer func() {
		app.reload.reloadDuration.Observe(time.Since(start).Seconds())
	}()

	if err := app.limiter.SetLimits(newCfg.RateLimits()); err != nil {
		app.logger.Error("failed to reload rate limits", observability.Error(err))
		app.reload.componentTotal.WithLabelValues("rate_limiter", "error").Inc()
		app.reload.reloadTotal.WithLabelValues("error").Inc()
		return
	}
	app.reload.componentTotal.WithLabelValues("rate_limiter", "success").Inc()

	app.policy.SetDevelopment(newCfg.IsDevelopment())
	app.policy.Reset(headerOverrides(newCfg.SecurityHeaders))
	app.reload.componentTotal.WithLabelValues("security_headers", "success").Inc()

	if mode, err := pipeline.ParseMode(newCfg.Pipeline.Mode); err == nil {
		app.registry.SetMode(mode)
	}
	for group, stages := range newCfg.PipelineGroups() {
		app.registry.DefineGroup(group, stages...)
	}
	app.reload.componentTotal.WithLabelValues("pipeline", "success").Inc()

	if changed := restartRequired(app.config, newCfg); len(changed) > 0 {
		app.logger.Warn("configuration sections changed that are only applied on restart",
			observability.String("sections", strings.Join(changed, ",")),
		)
	}

	app.audit.Log(ctx, &audit.Event{
		Kind:    audit.KindConfigReload,
		Message: "configuration reloaded",
		Details: map[string]string{
			"pipeline_mode":     newCfg.Pipeline.Mode,
			"ratelimit_classes": strings.Join(sortedClassNames(newCfg), ","),
		},
	})

	app.reload.reloadTotal.WithLabelValues("success").Inc()
	app.reload.reloadLastSuccess.SetToCurrentTime()
}

// restartRequired lists the sections that differ between the running and
// the new configuration but are fixed at startup.
func restartRequired(running, next *config.Config) []string {
	sections := []struct {
		name     string
		old, new any
	}{
		{"server", running.Server, next.Server},
		{"session", running.Session, next.Session},
		{"redis", running.Redis, next.Redis},
		{"csrf", running.CSRF, next.CSRF},
		{"rateLimit.store", running.RateLimit.Store, next.RateLimit.Store},
		{"rateLimit.breaker", running.RateLimit.Breaker, next.RateLimit.Breaker},
		{"pipeline.routes", running.Pipeline.Routes, next.Pipeline.Routes},
		{"auth", running.Auth, next.Auth},
		{"admin", running.Admin, next.Admin},
		{"cors", running.CORS, next.CORS},
		{"jsonParser", running.JSONParser, next.JSONParser},
		{"upstream", running.Upstream, next.Upstream},
		{"trustedProxies", running.TrustedProxies, next.TrustedProxies},
		{"observability", running.Observability, next.Observability},
		{"audit", running.Audit, next.Audit},
	}

	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

func sortedClassNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.RateLimit.Classes))
	for name := range cfg.RateLimit.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
