// Package app wires all Zentry subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the media and control planes, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithCallStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zentrylabs/zentry/internal/call"
	"github.com/zentrylabs/zentry/internal/callstore"
	"github.com/zentrylabs/zentry/internal/callstore/postgres"
	"github.com/zentrylabs/zentry/internal/config"
	"github.com/zentrylabs/zentry/internal/endpoint"
	"github.com/zentrylabs/zentry/internal/health"
	"github.com/zentrylabs/zentry/internal/observe"
	"github.com/zentrylabs/zentry/internal/reflex"
	"github.com/zentrylabs/zentry/internal/sched"
	"github.com/zentrylabs/zentry/internal/transport/eslsock"
	"github.com/zentrylabs/zentry/internal/transport/mediaws"
	"github.com/zentrylabs/zentry/pkg/provider/brain"
	"github.com/zentrylabs/zentry/pkg/provider/brain/rules"
	"github.com/zentrylabs/zentry/pkg/provider/stt"
	"github.com/zentrylabs/zentry/pkg/provider/tts"
	"github.com/zentrylabs/zentry/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. All four are
// required; main.go populates them via the config registry.
type Providers struct {
	VAD   vad.Engine
	STT   stt.Provider
	TTS   tts.Provider
	Brain brain.Provider
}

func (p *Providers) validate() error {
	var errs []error
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if p.Brain == nil {
		errs = append(errs, errors.New("brain provider is required"))
	}
	return errors.Join(errs...)
}

// App owns all subsystem lifetimes and serves the Zentry call pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	calls   callstore.Store
	assets  *reflex.Store
	brain   *hotBrain
	pools   *sched.Pools
	metrics *observe.Metrics
	media   *mediaws.Server
	esl     *eslsock.Client
	checks  *health.Handler
	httpSrv *http.Server

	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCallStore injects a call store instead of creating one from config.
func WithCallStore(s callstore.Store) Option {
	return func(a *App) { a.calls = s }
}

// WithMetrics injects a metrics set instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithReflexStore injects a reflex asset store instead of loading one from
// the configured assets directory.
func WithReflexStore(s *reflex.Store) Option {
	return func(a *App) { a.assets = s }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// that config reloads can retune verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Call store ────────────────────────────────────────────────────
	if err := a.initCallStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init call store: %w", err)
	}

	// ── 2. Reflex assets ─────────────────────────────────────────────────
	if err := a.initReflex(); err != nil {
		return nil, fmt.Errorf("app: init reflex assets: %w", err)
	}

	// ── 3. Brain + rule layer ────────────────────────────────────────────
	a.initBrain()

	// ── 4. Scheduler pools ───────────────────────────────────────────────
	a.pools = sched.NewPools(cfg.Pools.GPU, cfg.Pools.CPU)
	a.pools.Instrument(a.metrics)

	// ── 5. Transports ────────────────────────────────────────────────────
	if err := a.initTransports(); err != nil {
		return nil, fmt.Errorf("app: init transports: %w", err)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCallStore connects PostgreSQL when a DSN is configured and falls back
// to the in-memory store otherwise.
func (a *App) initCallStore(ctx context.Context) error {
	if a.calls != nil {
		return nil // injected
	}

	dsn := a.cfg.CallStore.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured, call records will not survive a restart")
		a.calls = callstore.NewMemoryStore()
		return nil
	}

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.calls = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initReflex loads the canned-audio assets at the synthesis rate so reflex
// replies can be streamed without transcoding.
func (a *App) initReflex() error {
	if a.assets != nil {
		return nil // injected
	}

	rate := a.cfg.Audio.SynthSampleRate
	if rate == 0 {
		rate = 16000
	}
	store, err := reflex.Load(a.cfg.Reflex.AssetsDir, rate)
	if err != nil {
		return err
	}
	a.assets = store
	slog.Info("loaded reflex assets", "dir", a.cfg.Reflex.AssetsDir, "count", store.Len())
	return nil
}

// initBrain wraps the configured reasoning provider in the phrase-rule layer
// behind a swappable pointer so rule reloads don't touch in-flight turns.
func (a *App) initBrain() {
	a.brain = newHotBrain(a.providers.Brain, rulesFromConfig(a.cfg.Reflex.Rules))
	a.closers = append(a.closers, a.brain.Close)
}

// initTransports builds the websocket media server and, when configured, the
// FreeSWITCH event socket client.
func (a *App) initTransports() error {
	deps := call.Deps{
		VAD:     a.providers.VAD,
		STT:     a.providers.STT,
		Brain:   a.brain,
		TTS:     a.providers.TTS,
		Pools:   a.pools,
		Reflex:  a.assets,
		Calls:   a.calls,
		Metrics: a.metrics,
		Logger:  slog.Default(),
	}
	a.media = mediaws.New(deps, callSettings(a.cfg.Audio), slog.Default())

	if a.cfg.ESL == nil {
		return nil
	}
	esl, err := eslsock.New(eslsock.Config{
		Addr:         a.cfg.ESL.Addr,
		Password:     a.cfg.ESL.Password,
		MediaURL:     a.cfg.ESL.MediaURL,
		ReconnectMax: time.Duration(a.cfg.ESL.ReconnectSeconds) * time.Second,
	}, slog.Default())
	if err != nil {
		return err
	}
	esl.OnHangup = func(uuid string) {
		slog.Debug("channel hangup", "uuid", uuid)
	}
	a.esl = esl
	return nil
}

// initHTTP assembles the mux: media endpoints, health probes, and the
// Prometheus scrape endpoint, all behind the tracing middleware.
func (a *App) initHTTP() {
	a.checks = health.New(health.Checker{
		Name: "callstore",
		Check: func(ctx context.Context) error {
			// Ending an unknown call is a no-op; a reachable store returns nil.
			return a.calls.End(ctx, "readyz-probe")
		},
	})

	mux := http.NewServeMux()
	a.media.Register(mux)
	a.checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler exposes the assembled HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the media/control HTTP endpoint and, when configured, the ESL
// control connection; it blocks until ctx is cancelled or a server fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", a.httpSrv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = a.httpSrv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: media server: %w", err)
	})

	if a.esl != nil {
		g.Go(func() error {
			err := a.esl.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfigUpdate applies the hot-reloadable delta between two configs:
// log verbosity, endpoint-detection tuning for new calls, and the phrase
// rule table. Everything else requires a restart and is ignored.
func (a *App) ApplyConfigUpdate(old, updated *config.Config) {
	diff := config.Diff(old, updated)
	if !diff.HasChanges() {
		return
	}

	if diff.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(slogLevel(diff.NewLogLevel))
		}
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}

	if diff.VADChanged {
		a.media.UpdateSettings(callSettings(updated.Audio))
		slog.Info("endpoint tuning updated",
			"threshold", diff.NewVAD.Threshold,
			"endpoint_silence_ms", diff.NewVAD.EndpointSilenceMs)
	}

	if diff.RulesChanged {
		a.brain.setRules(rulesFromConfig(diff.NewRules))
		slog.Info("reflex rules updated", "count", len(diff.NewRules))
	}

	a.cfg = updated
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("media server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Support ─────────────────────────────────────────────────────────────────

// hotBrain is the swappable reasoning front. It always delegates to a
// rules.Provider wrapping the same base provider; setRules replaces the
// wrapper without disturbing calls already inside the old one.
type hotBrain struct {
	base    brain.Provider
	current atomic.Pointer[rules.Provider]
}

var _ brain.Provider = (*hotBrain)(nil)

func newHotBrain(base brain.Provider, table []rules.Rule) *hotBrain {
	h := &hotBrain{base: base}
	h.current.Store(rules.New(base, table))
	return h
}

func (h *hotBrain) setRules(table []rules.Rule) {
	// The old wrapper owns no resources of its own; dropping it is enough.
	h.current.Store(rules.New(h.base, table))
}

func (h *hotBrain) Respond(ctx context.Context, req brain.Request) (brain.Reply, error) {
	return h.current.Load().Respond(ctx, req)
}

func (h *hotBrain) Close() error {
	return h.base.Close()
}

// callSettings maps the audio config block onto the media server's per-call
// template.
func callSettings(c config.AudioConfig) mediaws.CallSettings {
	return mediaws.CallSettings{
		SampleRate:    c.SampleRate,
		SynthRate:     c.SynthSampleRate,
		ChunkDuration: time.Duration(c.ChunkMs) * time.Millisecond,
		Endpoint: endpoint.Config{
			SpeechThreshold: c.VAD.Threshold,
			MinEnergy:       c.VAD.MinEnergy,
			ForceEnergy:     c.VAD.ForceEnergy,
			EndpointSilence: time.Duration(c.VAD.EndpointSilenceMs) * time.Millisecond,
			MaxUtterance:    time.Duration(c.VAD.MaxUtteranceMs) * time.Millisecond,
		},
	}
}

// rulesFromConfig converts the config rule table to the matcher's form.
func rulesFromConfig(cfg []config.RuleConfig) []rules.Rule {
	table := make([]rules.Rule, 0, len(cfg))
	for _, r := range cfg {
		table = append(table, rules.Rule{
			Phrases: r.Phrases,
			Asset:   r.Asset,
			Log:     r.Log,
		})
	}
	return table
}

// slogLevel maps the config log level to slog's scale.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
