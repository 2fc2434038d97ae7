// Package brain defines the reasoning interface that turns a caller's
// transcript into the agent's next reply.
//
// A reply is a two-case tagged variant: either Spoken text that must be
// synthesised, or a Reflex naming a pre-rendered audio asset that can be
// played immediately. Modelling the reply as a closed variant keeps the
// turn controller's branch exhaustive; a new reply kind cannot be added
// without the compiler pointing at every switch that must handle it.
package brain

import "context"

// Request carries the caller context and transcript for one turn.
type Request struct {
	// CallID identifies the call session in the call store.
	CallID string
	// CallerID identifies the caller profile in the call store.
	CallerID string
	// Phone is the caller's phone number in E.164 form.
	Phone string
	// Text is the transcript of the caller's utterance.
	Text string
}

// Reply is the closed set of reply kinds a provider can produce.
// The only implementations are Spoken and Reflex.
type Reply interface {
	// LogText returns the human-readable form of the reply for call logs.
	LogText() string

	isReply()
}

// Spoken is a literal text reply that must be synthesised before playback.
type Spoken struct {
	// Text is the reply to synthesise.
	Text string
	// Log optionally overrides the logged form of the reply. When empty,
	// Text is logged.
	Log string
}

func (s Spoken) isReply() {}

// LogText implements Reply.
func (s Spoken) LogText() string {
	if s.Log != "" {
		return s.Log
	}
	return s.Text
}

// Reflex names a pre-rendered audio asset to play without synthesis. It is
// the fast path for common replies where synthesis latency is not worth
// paying.
type Reflex struct {
	// Asset is the name of the canned audio asset in the reflex store.
	Asset string
	// Log is the human-readable form of the canned reply for call logs.
	Log string
}

func (r Reflex) isReply() {}

// LogText implements Reply.
func (r Reflex) LogText() string {
	if r.Log != "" {
		return r.Log
	}
	return r.Asset
}

// Provider produces the agent's reply to one caller utterance.
//
// Implementations must be safe for concurrent use and must tolerate
// cancellation mid-request: the pipeline abandons the turn when the caller
// barges in or hangs up, without waiting for a result.
type Provider interface {
	// Respond returns the reply to the transcript in req. An empty Spoken
	// reply with a nil error means the provider had nothing to say; the
	// caller aborts the turn.
	Respond(ctx context.Context, req Request) (Reply, error)

	// Close releases any resources held by the provider.
	Close() error
}
