// Package call owns the per-call turn-taking lifecycle. One Controller serves
// one phone call: it feeds inbound audio through the endpoint detector,
// starts a cancellable turn when an utterance finalizes, preempts that turn
// when the caller barges in, and streams the reply back out through the
// paced transcoding path.
//
// A turn runs listen → process → speak: transcription on the CPU pool, a
// reasoning call, then either synthesis on the GPU pool or a pre-rendered
// reflex asset, played through an [audio.OutStream]. At most one turn per
// call is in flight; an utterance arriving while a turn is processing is
// dropped and counted.
//
// HandleAudio must be driven from the call's single ingestion goroutine (the
// detector is not concurrency-safe). Everything else on the Controller is
// safe to call concurrently with it.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zentrylabs/zentry/internal/callstore"
	"github.com/zentrylabs/zentry/internal/endpoint"
	"github.com/zentrylabs/zentry/internal/observe"
	"github.com/zentrylabs/zentry/internal/reflex"
	"github.com/zentrylabs/zentry/internal/sched"
	"github.com/zentrylabs/zentry/pkg/audio"
	"github.com/zentrylabs/zentry/pkg/provider/brain"
	"github.com/zentrylabs/zentry/pkg/provider/stt"
	"github.com/zentrylabs/zentry/pkg/provider/tts"
	"github.com/zentrylabs/zentry/pkg/provider/vad"
)

const (
	// minTranscriptRunes is the shortest transcript worth responding to.
	// Anything below it is treated as a non-utterance (breath, line noise
	// the recogniser dressed up as a word).
	minTranscriptRunes = 2

	// defaultChunkDuration paces outbound audio in 20 ms frames, the cadence
	// both telephony transports expect.
	defaultChunkDuration = 20 * time.Millisecond
)

// Turn outcome labels recorded on the zentry.turns counter.
const (
	outcomeSpoken    = "spoken"
	outcomeReflex    = "reflex"
	outcomeAborted   = "aborted"
	outcomePreempted = "preempted"
	outcomeError     = "error"
)

// Config identifies the call and fixes its audio geometry.
type Config struct {
	// CallUUID is the telephony layer's opaque call identifier.
	CallUUID string

	// Phone is the caller's number as reported by the transport. It is
	// hashed before it reaches storage.
	Phone string

	// Codec selects the outbound wire encoding. CodecMuLaw for narrowband
	// telephony transports, CodecPCM for transports taking raw audio.
	Codec audio.Codec

	// SampleRate of the inbound PCM in Hz. Supported: 8000, 16000.
	SampleRate int

	// SynthRate is the synthesis sample rate in Hz. Defaults to 16000.
	SynthRate int

	// ChunkDuration is the paced outbound chunk size. Defaults to 20 ms.
	ChunkDuration time.Duration

	// Endpoint tunes the detector. SampleRate is filled from this Config.
	Endpoint endpoint.Config
}

// Deps are the collaborators a Controller drives. All fields except Logger
// and Metrics are required.
type Deps struct {
	VAD    vad.Engine
	STT    stt.Provider
	Brain  brain.Provider
	TTS    tts.Provider
	Pools  *sched.Pools
	Reflex *reflex.Store
	Calls  callstore.Store

	// Send transmits one wire-ready outbound chunk; the transport owns the
	// framing.
	Send audio.SendFunc

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (d Deps) validate() error {
	var errs []error
	if d.VAD == nil {
		errs = append(errs, errors.New("VAD engine is required"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("STT provider is required"))
	}
	if d.Brain == nil {
		errs = append(errs, errors.New("brain provider is required"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("TTS provider is required"))
	}
	if d.Pools == nil {
		errs = append(errs, errors.New("scheduler pools are required"))
	}
	if d.Reflex == nil {
		errs = append(errs, errors.New("reflex store is required"))
	}
	if d.Calls == nil {
		errs = append(errs, errors.New("call store is required"))
	}
	if d.Send == nil {
		errs = append(errs, errors.New("send function is required"))
	}
	return errors.Join(errs...)
}

// turn is the single-slot ownership token for one listen-process-speak
// cycle. Whoever holds the Controller's active pointer owns the call's
// processing phase.
type turn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller orchestrates one call.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	met  *observe.Metrics

	callID   string
	callerID string

	session  vad.Session
	detector *endpoint.Detector

	ctx       context.Context
	cancelAll context.CancelFunc

	// active is the single-flight turn token. CAS nil→turn starts a turn;
	// CAS turn→nil returns the call to idle. Cleared eagerly on barge-in so
	// the next utterance can start before the cancelled stages unwind.
	active atomic.Pointer[turn]

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New registers the call with the call store, allocates a detector session
// and returns a Controller ready for HandleAudio. ctx bounds the whole call:
// when it is cancelled every in-flight turn stops.
func New(ctx context.Context, cfg Config, deps Deps) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	if cfg.Codec == "" {
		cfg.Codec = audio.CodecPCM
	}
	if !cfg.Codec.IsValid() {
		return nil, fmt.Errorf("call: unknown codec %q", cfg.Codec)
	}
	if cfg.SynthRate == 0 {
		cfg.SynthRate = 16000
	}
	if cfg.ChunkDuration == 0 {
		cfg.ChunkDuration = defaultChunkDuration
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	callID, callerID, err := deps.Calls.Start(ctx, cfg.CallUUID, cfg.Phone)
	if err != nil {
		return nil, fmt.Errorf("call: register session: %w", err)
	}

	session, err := deps.VAD.NewSession(vad.Config{SampleRate: cfg.SampleRate})
	if err != nil {
		_ = deps.Calls.End(context.WithoutCancel(ctx), callID)
		return nil, fmt.Errorf("call: vad session: %w", err)
	}

	epCfg := cfg.Endpoint
	epCfg.SampleRate = cfg.SampleRate
	detector, err := endpoint.New(session, epCfg)
	if err != nil {
		_ = session.Close()
		_ = deps.Calls.End(context.WithoutCancel(ctx), callID)
		return nil, err
	}

	callCtx, cancelAll := context.WithCancel(ctx)
	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Logger.With("call_id", callID),
		met:       deps.Metrics,
		callID:    callID,
		callerID:  callerID,
		session:   session,
		detector:  detector,
		ctx:       callCtx,
		cancelAll: cancelAll,
	}
	c.met.ActiveCalls.Add(callCtx, 1)
	c.log.Info("call started", "caller_id", callerID, "codec", cfg.Codec, "sample_rate", cfg.SampleRate)
	return c, nil
}

// CallID returns the store-assigned call session identifier.
func (c *Controller) CallID() string { return c.callID }

// CallerID returns the store-assigned caller profile identifier.
func (c *Controller) CallerID() string { return c.callerID }

// HandleAudio feeds one chunk of inbound 16-bit PCM through the detector and
// acts on the resulting event. Call it from the transport's single ingestion
// goroutine only.
//
// A barge-in preempts the active turn: the turn's context is cancelled and
// the ownership token cleared immediately, so the utterance that follows the
// barge-in can start its own turn without waiting for the cancelled stages
// to unwind. An utterance arriving while a turn still holds the token is
// dropped.
func (c *Controller) HandleAudio(chunk []byte) {
	c.handleEvent(c.detector.Process(chunk))
}

func (c *Controller) handleEvent(ev endpoint.Event) {
	switch ev.Kind {
	case endpoint.EventBargeIn:
		if t := c.active.Load(); t != nil {
			t.cancel()
			c.active.CompareAndSwap(t, nil)
			c.met.BargeIns.Add(c.ctx, 1)
			c.log.Debug("barge-in, turn preempted")
		}

	case endpoint.EventUtterance:
		turnCtx, cancel := context.WithCancel(c.ctx)
		t := &turn{cancel: cancel, done: make(chan struct{})}
		if !c.active.CompareAndSwap(nil, t) {
			cancel()
			c.met.DroppedUtterances.Add(c.ctx, 1)
			c.log.Debug("utterance dropped, turn in flight", "bytes", len(ev.Utterance))
			return
		}
		c.wg.Add(1)
		go c.runTurn(turnCtx, t, ev.Utterance)
	}
}

// runTurn executes one listen-process-speak cycle. It owns t until it clears
// the active token (or finds it already cleared by a barge-in).
func (c *Controller) runTurn(ctx context.Context, t *turn, utterance []byte) {
	start := time.Now()
	outcome := outcomeError

	ctx, span := observe.StartSpan(ctx, "turn",
		trace.WithAttributes(attribute.String("call_id", c.callID)))

	defer func() {
		c.active.CompareAndSwap(t, nil)
		close(t.done)
		t.cancel()
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		c.met.TurnDuration.Record(ctx, time.Since(start).Seconds())
		c.met.RecordTurn(ctx, outcome)
		c.wg.Done()
	}()

	text, err := c.transcribe(ctx, utterance)
	if err != nil {
		outcome = c.stageFailed(ctx, "stt", err)
		return
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minTranscriptRunes {
		c.log.Debug("transcript below minimum, turn aborted", "transcript", text)
		outcome = outcomeAborted
		return
	}
	c.log.Info("caller said", "transcript", text)

	reply, err := c.respond(ctx, text)
	if err != nil {
		outcome = c.stageFailed(ctx, "brain", err)
		return
	}

	switch r := reply.(type) {
	case brain.Spoken:
		if r.Text == "" {
			outcome = outcomeAborted
			return
		}
		c.log.Info("responding", "text", r.LogText())
		pcm, err := c.synthesize(ctx, r.Text)
		if err != nil {
			outcome = c.stageFailed(ctx, "tts", err)
			return
		}
		if len(pcm) > 0 {
			if err := c.play(ctx, pcm); err != nil {
				outcome = c.stageFailed(ctx, "transport", err)
				return
			}
		}
		outcome = outcomeSpoken

	case brain.Reflex:
		pcm, ok := c.deps.Reflex.Get(r.Asset)
		if !ok {
			c.log.Warn("reflex asset missing, turn aborted", "asset", r.Asset)
			outcome = outcomeAborted
			return
		}
		c.log.Info("responding", "text", r.LogText(), "asset", r.Asset)
		if err := c.play(ctx, pcm); err != nil {
			outcome = c.stageFailed(ctx, "transport", err)
			return
		}
		outcome = outcomeReflex

	default:
		c.log.Error("unknown reply variant", "reply", fmt.Sprintf("%T", reply))
		outcome = outcomeError
	}
}

// transcribe runs the STT stage on the CPU pool.
func (c *Controller) transcribe(ctx context.Context, utterance []byte) (string, error) {
	ctx, span := observe.StartSpan(ctx, "turn.transcribe")
	defer span.End()
	return sched.Call(ctx, c.deps.Pools.CPU, func(ctx context.Context) (string, error) {
		t0 := time.Now()
		text, err := c.deps.STT.Transcribe(ctx, utterance, c.cfg.SampleRate)
		c.met.STTDuration.Record(ctx, time.Since(t0).Seconds())
		return text, err
	})
}

// respond runs the reasoning stage.
func (c *Controller) respond(ctx context.Context, text string) (brain.Reply, error) {
	ctx, span := observe.StartSpan(ctx, "turn.respond")
	defer span.End()
	t0 := time.Now()
	reply, err := c.deps.Brain.Respond(ctx, brain.Request{
		CallID:   c.callID,
		CallerID: c.callerID,
		Phone:    c.cfg.Phone,
		Text:     text,
	})
	c.met.BrainDuration.Record(ctx, time.Since(t0).Seconds())
	return reply, err
}

// synthesize renders text to PCM on the GPU pool. A nil waveform from the
// provider yields empty PCM and the turn ends silently.
func (c *Controller) synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "turn.synthesize")
	defer span.End()
	waveform, err := sched.Call(ctx, c.deps.Pools.GPU, func(ctx context.Context) ([]float32, error) {
		t0 := time.Now()
		w, err := c.deps.TTS.Synthesize(ctx, text, c.cfg.SynthRate)
		c.met.TTSDuration.Record(ctx, time.Since(t0).Seconds())
		return w, err
	})
	if err != nil {
		return nil, err
	}
	return audio.PCM16FromFloat32(waveform), nil
}

// play streams synthesis-rate PCM to the transport, transcoded and paced for
// the call's codec. A fresh OutStream per response keeps the resampler
// continuation state scoped to this stream.
func (c *Controller) play(ctx context.Context, pcm []byte) error {
	ctx, span := observe.StartSpan(ctx, "turn.play")
	defer span.End()
	out := audio.NewOutStream(c.cfg.Codec, c.cfg.SynthRate, c.cfg.ChunkDuration, c.deps.Send)
	return out.Play(ctx, pcm)
}

// stageFailed classifies a stage error: cancellation means the turn was
// preempted, anything else is a provider error worth logging and counting.
func (c *Controller) stageFailed(ctx context.Context, stage string, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		c.log.Debug("turn preempted", "stage", stage)
		return outcomePreempted
	}
	c.log.Error("turn failed", "stage", stage, "error", err)
	c.met.RecordProviderError(ctx, stage, "call")
	return outcomeError
}

// Close tears the call down: it cancels any in-flight turn, waits for it to
// unwind, releases the detector session and marks the call session ended.
// Safe to call more than once; only the first call does the work.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.cancelAll()
		c.wg.Wait()

		var errs []error
		if err := c.session.Close(); err != nil {
			errs = append(errs, err)
		}
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
		defer cancel()
		if err := c.deps.Calls.End(endCtx, c.callID); err != nil {
			errs = append(errs, err)
		}
		c.met.ActiveCalls.Add(endCtx, -1)
		c.log.Info("call ended")
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
