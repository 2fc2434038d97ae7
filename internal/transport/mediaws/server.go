// Package mediaws serves the per-call media WebSocket endpoints.
//
// Two telephony surfaces share one server. /stream speaks the FreeSWITCH
// mod_audio_stream protocol: the first text frame is JSON call metadata,
// every binary frame after it is linear PCM, and outbound audio goes back as
// a streamAudio JSON envelope with base64 PCM. /twilio/stream speaks the
// Twilio media-stream protocol: JSON events in both directions, audio as
// base64 8 kHz mu-law inside media events.
//
// Each connection owns exactly one [call.Controller]; when the socket drops
// or the stream stops, the controller is closed and the call ends.
package mediaws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/zentrylabs/zentry/internal/call"
	"github.com/zentrylabs/zentry/internal/endpoint"
	"github.com/zentrylabs/zentry/pkg/audio"
)

// CallSettings is the per-server template for the calls this transport
// accepts. Codec and sample rate are fixed per endpoint (raw wideband PCM on
// /stream, narrowband mu-law on /twilio/stream); the rest applies to both.
type CallSettings struct {
	// SampleRate of inbound FreeSWITCH audio in Hz. Defaults to 16000.
	// Twilio audio is always 8000.
	SampleRate int

	// SynthRate is the synthesis sample rate passed to every call.
	SynthRate int

	// ChunkDuration paces outbound audio. Zero takes the call default.
	ChunkDuration time.Duration

	// Endpoint tunes each call's detector.
	Endpoint endpoint.Config
}

// twilioRate is the only sample rate Twilio media streams carry.
const twilioRate = 8000

// Server accepts media WebSocket connections and runs one call per socket.
type Server struct {
	deps     call.Deps
	settings atomic.Pointer[CallSettings]
	log      *slog.Logger
}

// New builds a Server creating calls from the given collaborators. The Send
// field of deps is ignored; this transport supplies its own per-connection
// send function.
func New(deps call.Deps, settings CallSettings, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{deps: deps, log: log}
	s.UpdateSettings(settings)
	return s
}

// UpdateSettings swaps the call template. In-flight calls keep the settings
// they started with; connections accepted afterwards use the new ones.
func (s *Server) UpdateSettings(settings CallSettings) {
	if settings.SampleRate == 0 {
		settings.SampleRate = 16000
	}
	s.settings.Store(&settings)
}

// Register adds the two media endpoints to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream", s.HandleStream)
	mux.HandleFunc("GET /twilio/stream", s.HandleTwilio)
}

// ─── FreeSWITCH mod_audio_stream ─────────────────────────────────────────────

// streamMeta is the first text frame mod_audio_stream sends after attaching.
type streamMeta struct {
	UUID   string `json:"uuid"`
	Caller string `json:"caller"`
}

// streamAudio is the outbound envelope mod_audio_stream plays back to the
// caller.
type streamAudio struct {
	Type string          `json:"type"`
	Data streamAudioData `json:"data"`
}

type streamAudioData struct {
	AudioDataType string `json:"audioDataType"`
	SampleRate    int    `json:"sampleRate"`
	AudioData     string `json:"audioData"`
}

// HandleStream serves one FreeSWITCH media stream: metadata frame, then raw
// PCM until the channel hangs up.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("media stream accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")
	ctx := r.Context()

	meta, err := readStreamMeta(ctx, conn)
	if err != nil {
		s.log.Warn("media stream rejected", "error", err)
		conn.Close(websocket.StatusPolicyViolation, "missing stream metadata")
		return
	}

	settings := *s.settings.Load()
	synthRate := settings.SynthRate
	if synthRate == 0 {
		synthRate = 16000
	}
	deps := s.deps
	deps.Send = func(ctx context.Context, chunk []byte) error {
		payload, err := json.Marshal(streamAudio{
			Type: "streamAudio",
			Data: streamAudioData{
				AudioDataType: "raw",
				SampleRate:    synthRate,
				AudioData:     base64.StdEncoding.EncodeToString(chunk),
			},
		})
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, payload)
	}

	ctl, err := call.New(ctx, call.Config{
		CallUUID:      meta.UUID,
		Phone:         meta.Caller,
		Codec:         audio.CodecPCM,
		SampleRate:    settings.SampleRate,
		SynthRate:     settings.SynthRate,
		ChunkDuration: settings.ChunkDuration,
		Endpoint:      settings.Endpoint,
	}, deps)
	if err != nil {
		s.log.Error("call setup failed", "call_uuid", meta.UUID, "error", err)
		conn.Close(websocket.StatusInternalError, "call setup failed")
		return
	}
	defer ctl.Close()
	s.log.Info("media stream attached", "call_uuid", meta.UUID)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("media stream read ended", "call_uuid", meta.UUID, "error", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			ctl.HandleAudio(data)
		}
	}
}

// readStreamMeta reads and parses the mandatory first metadata frame.
func readStreamMeta(ctx context.Context, conn *websocket.Conn) (streamMeta, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return streamMeta{}, fmt.Errorf("mediaws: read metadata frame: %w", err)
	}
	if typ != websocket.MessageText {
		return streamMeta{}, errors.New("mediaws: first frame must be text metadata")
	}
	var meta streamMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return streamMeta{}, fmt.Errorf("mediaws: parse metadata: %w", err)
	}
	if meta.UUID == "" {
		return streamMeta{}, errors.New("mediaws: metadata is missing uuid")
	}
	if meta.Caller == "" {
		meta.Caller = "unknown"
	}
	return meta, nil
}

// ─── Twilio media streams ────────────────────────────────────────────────────

// twilioEvent covers the inbound events this server acts on. Twilio sends
// more (connected, mark); unknown events are skipped.
type twilioEvent struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// twilioMediaOut is the outbound media event carrying base64 mu-law.
type twilioMediaOut struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// HandleTwilio serves one Twilio media stream. Audio arrives and leaves as
// base64 mu-law at 8 kHz; the call runs in narrowband mode end to end.
func (s *Server) HandleTwilio(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("twilio stream accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")
	ctx := r.Context()

	var ctl *call.Controller
	defer func() {
		if ctl != nil {
			ctl.Close()
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var ev twilioEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Debug("twilio event parse failed", "error", err)
			continue
		}

		switch ev.Event {
		case "start":
			if ev.Start == nil || ev.Start.StreamSID == "" {
				s.log.Warn("twilio start event without streamSid")
				conn.Close(websocket.StatusPolicyViolation, "invalid start event")
				return
			}
			if ctl != nil {
				continue
			}
			sid := ev.Start.StreamSID
			caller := ev.Start.CustomParameters["caller"]
			if caller == "" {
				caller = "unknown"
			}

			deps := s.deps
			deps.Send = func(ctx context.Context, chunk []byte) error {
				out := twilioMediaOut{Event: "media", StreamSID: sid}
				out.Media.Payload = base64.StdEncoding.EncodeToString(chunk)
				payload, err := json.Marshal(out)
				if err != nil {
					return err
				}
				return conn.Write(ctx, websocket.MessageText, payload)
			}

			settings := *s.settings.Load()
			ctl, err = call.New(ctx, call.Config{
				CallUUID:      sid,
				Phone:         caller,
				Codec:         audio.CodecMuLaw,
				SampleRate:    twilioRate,
				SynthRate:     settings.SynthRate,
				ChunkDuration: settings.ChunkDuration,
				Endpoint:      settings.Endpoint,
			}, deps)
			if err != nil {
				s.log.Error("twilio call setup failed", "stream_sid", sid, "error", err)
				conn.Close(websocket.StatusInternalError, "call setup failed")
				return
			}
			s.log.Info("twilio stream attached", "stream_sid", sid)

		case "media":
			if ctl == nil || ev.Media == nil {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				s.log.Debug("twilio media payload decode failed", "error", err)
				continue
			}
			ctl.HandleAudio(audio.DecodeMuLaw(mulaw))

		case "stop":
			conn.Close(websocket.StatusNormalClosure, "stream stopped")
			return
		}
	}
}
