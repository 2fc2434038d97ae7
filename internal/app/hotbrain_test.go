package app

import (
	"context"
	"testing"
	"time"

	"github.com/zentrylabs/zentry/internal/config"
	"github.com/zentrylabs/zentry/pkg/provider/brain"
	brainmock "github.com/zentrylabs/zentry/pkg/provider/brain/mock"
)

func TestHotBrain_DelegatesWithoutRules(t *testing.T) {
	t.Parallel()

	base := &brainmock.Provider{Reply: brain.Spoken{Text: "hello"}}
	h := newHotBrain(base, nil)

	reply, err := h.Respond(context.Background(), brain.Request{Text: "hi there"})
	if err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	spoken, ok := reply.(brain.Spoken)
	if !ok || spoken.Text != "hello" {
		t.Errorf("reply = %#v, want Spoken{hello}", reply)
	}
}

func TestHotBrain_SetRulesTakesEffect(t *testing.T) {
	t.Parallel()

	base := &brainmock.Provider{Reply: brain.Spoken{Text: "from model"}}
	h := newHotBrain(base, nil)

	req := brain.Request{Text: "what are your opening hours"}
	if reply, _ := h.Respond(context.Background(), req); reply.LogText() != "from model" {
		t.Fatalf("before swap reply = %q, want model reply", reply.LogText())
	}

	h.setRules(rulesFromConfig([]config.RuleConfig{{
		Phrases: []string{"what are your opening hours"},
		Asset:   "opening-hours",
		Log:     "We are open nine to five.",
	}}))

	reply, err := h.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("Respond() error: %v", err)
	}
	reflex, ok := reply.(brain.Reflex)
	if !ok || reflex.Asset != "opening-hours" {
		t.Errorf("reply after swap = %#v, want Reflex{opening-hours}", reply)
	}
}

func TestHotBrain_CloseClosesBaseOnce(t *testing.T) {
	t.Parallel()

	base := &brainmock.Provider{}
	h := newHotBrain(base, nil)
	h.setRules(nil)

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !base.IsClosed {
		t.Error("base provider not closed")
	}
}

func TestCallSettings_MapsAudioConfig(t *testing.T) {
	t.Parallel()

	got := callSettings(config.AudioConfig{
		SampleRate:      8000,
		SynthSampleRate: 16000,
		ChunkMs:         40,
		VAD: config.VADConfig{
			Threshold:         0.7,
			MinEnergy:         0.02,
			ForceEnergy:       0.08,
			EndpointSilenceMs: 900,
			MaxUtteranceMs:    15000,
		},
	})

	if got.SampleRate != 8000 || got.SynthRate != 16000 {
		t.Errorf("rates = %d/%d, want 8000/16000", got.SampleRate, got.SynthRate)
	}
	if got.ChunkDuration != 40*time.Millisecond {
		t.Errorf("chunk = %v, want 40ms", got.ChunkDuration)
	}
	ep := got.Endpoint
	if ep.SpeechThreshold != 0.7 || ep.MinEnergy != 0.02 || ep.ForceEnergy != 0.08 {
		t.Errorf("endpoint thresholds = %+v", ep)
	}
	if ep.EndpointSilence != 900*time.Millisecond || ep.MaxUtterance != 15*time.Second {
		t.Errorf("endpoint durations = %v/%v", ep.EndpointSilence, ep.MaxUtterance)
	}
}
