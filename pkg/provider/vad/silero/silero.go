// Package silero implements vad.Engine using the Silero VAD ONNX model
// executed through ONNX Runtime. The model is tiny (~2 MB) and scores a
// 32 ms window in well under a millisecond on CPU, so each call gets its own
// inference session and the recurrent h/c state tensors that go with it.
//
// The ONNX Runtime shared library must be available at process start; pass
// its location via WithLibraryPath when it is not on the default search path.
package silero

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/zentrylabs/zentry/pkg/provider/vad"
)

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine loads the Silero VAD model once and creates per-call sessions.
type Engine struct {
	modelPath string
	libPath   string

	mu     sync.Mutex
	closed bool
}

// Option configures an Engine during construction.
type Option func(*Engine)

// WithLibraryPath sets the path of the onnxruntime shared library
// (libonnxruntime.so / .dylib). When empty, the platform default is used.
func WithLibraryPath(path string) Option {
	return func(e *Engine) { e.libPath = path }
}

// New initializes the ONNX Runtime environment and validates that the model
// file can be loaded. The environment is process-wide; failure here is fatal
// for the whole server, which must not accept calls without a working
// detector.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	e := &Engine{modelPath: modelPath}
	for _, o := range opts {
		o(e)
	}

	if e.libPath != "" {
		ort.SetSharedLibraryPath(e.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("silero: initialize onnxruntime: %w", err)
		}
	}

	// Open and immediately discard one session so a bad model path fails at
	// startup rather than on the first call.
	probe, err := e.NewSession(vad.Config{SampleRate: 16000})
	if err != nil {
		return nil, fmt.Errorf("silero: load model %q: %w", modelPath, err)
	}
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("silero: close probe session: %w", err)
	}
	return e, nil
}

// NewSession creates an independent scoring session with fresh hidden state.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.New("silero: engine is closed")
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	s := &session{sampleRate: cfg.SampleRate}
	var err error
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.WindowSamples))); err != nil {
		return nil, fmt.Errorf("silero: input tensor: %w", err)
	}
	if s.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(cfg.SampleRate)}); err != nil {
		return nil, fmt.Errorf("silero: sr tensor: %w", err)
	}
	if s.h, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return nil, fmt.Errorf("silero: h tensor: %w", err)
	}
	if s.c, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return nil, fmt.Errorf("silero: c tensor: %w", err)
	}
	if s.prob, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, fmt.Errorf("silero: output tensor: %w", err)
	}
	if s.hn, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return nil, fmt.Errorf("silero: hn tensor: %w", err)
	}
	if s.cn, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return nil, fmt.Errorf("silero: cn tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(e.modelPath,
		[]string{"input", "sr", "h", "c"},
		[]string{"output", "hn", "cn"},
		[]ort.Value{s.input, s.sr, s.h, s.c},
		[]ort.Value{s.prob, s.hn, s.cn},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return s, nil
}

// Close marks the engine closed. The ONNX Runtime environment itself is left
// initialized: it is process-global and other engines may still be using it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// session is one call's Silero scorer. Tensors are bound to the ONNX session
// once; each ProcessWindow overwrites the input buffer in place, runs the
// model, and feeds the produced hidden state back for the next window.
type session struct {
	sampleRate int

	session *ort.AdvancedSession

	input *ort.Tensor[float32]
	sr    *ort.Tensor[int64]
	h     *ort.Tensor[float32]
	c     *ort.Tensor[float32]

	prob *ort.Tensor[float32]
	hn   *ort.Tensor[float32]
	cn   *ort.Tensor[float32]

	closed bool
}

var _ vad.Session = (*session)(nil)

// ProcessWindow scores one analysis window and advances the hidden state.
func (s *session) ProcessWindow(window []float32) (float64, error) {
	if s.closed {
		return 0, errors.New("silero: session is closed")
	}
	in := s.input.GetData()
	if len(window) != len(in) {
		return 0, fmt.Errorf("silero: window has %d samples, want %d", len(window), len(in))
	}
	copy(in, window)

	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}

	copy(s.h.GetData(), s.hn.GetData())
	copy(s.c.GetData(), s.cn.GetData())
	return float64(s.prob.GetData()[0]), nil
}

// Reset zeroes the recurrent hidden state.
func (s *session) Reset() {
	if s.closed {
		return
	}
	clear(s.h.GetData())
	clear(s.c.GetData())
}

// Close destroys the ONNX session and all bound tensors.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.session != nil {
		s.session.Destroy()
	}
	for _, t := range []*ort.Tensor[float32]{s.input, s.h, s.c, s.prob, s.hn, s.cn} {
		if t != nil {
			t.Destroy()
		}
	}
	if s.sr != nil {
		s.sr.Destroy()
	}
	return nil
}
