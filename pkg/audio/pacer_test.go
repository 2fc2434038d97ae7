package audio_test

import (
	"context"
	"testing"
	"time"

	"github.com/zentrylabs/zentry/pkg/audio"
)

func TestPacerChunkBytes(t *testing.T) {
	tests := []struct {
		name  string
		pacer audio.Pacer
		want  int
	}{
		{"20ms PCM 16kHz", audio.Pacer{ChunkDuration: 20 * time.Millisecond, SampleRate: 16000, BytesPerSample: 2}, 640},
		{"20ms mu-law 8kHz", audio.Pacer{ChunkDuration: 20 * time.Millisecond, SampleRate: 8000, BytesPerSample: 1}, 160},
		{"40ms PCM 8kHz", audio.Pacer{ChunkDuration: 40 * time.Millisecond, SampleRate: 8000, BytesPerSample: 2}, 640},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pacer.ChunkBytes(); got != tt.want {
				t.Errorf("ChunkBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPacerStream_ChunkCountAndSizes(t *testing.T) {
	p := audio.Pacer{ChunkDuration: time.Millisecond, SampleRate: 8000, BytesPerSample: 1}
	data := make([]byte, 8*3+5) // 3 full chunks of 8 bytes plus a 5-byte tail

	var chunks [][]byte
	err := p.Stream(context.Background(), data, func(_ context.Context, chunk []byte) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	for i := range 3 {
		if len(chunks[i]) != 8 {
			t.Errorf("chunk %d: got %d bytes, want 8", i, len(chunks[i]))
		}
	}
	if len(chunks[3]) != 5 {
		t.Errorf("tail chunk: got %d bytes, want 5", len(chunks[3]))
	}
}

func TestPacerStream_InterChunkDelay(t *testing.T) {
	p := audio.Pacer{ChunkDuration: 20 * time.Millisecond, SampleRate: 8000, BytesPerSample: 1}
	data := make([]byte, p.ChunkBytes()*5)

	start := time.Now()
	if err := p.Stream(context.Background(), data, func(context.Context, []byte) error { return nil }); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	// 5 chunks, 4 inter-chunk delays: at least 80 ms of pacing.
	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Errorf("streamed in %v, expected at least ~80ms of pacing", elapsed)
	}
}

func TestPacerStream_CancelStopsImmediately(t *testing.T) {
	p := audio.Pacer{ChunkDuration: 50 * time.Millisecond, SampleRate: 8000, BytesPerSample: 1}
	data := make([]byte, p.ChunkBytes()*100) // 5 s worth of audio

	ctx, cancel := context.WithCancel(context.Background())
	sent := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Stream(ctx, data, func(context.Context, []byte) error {
			sent++
			return nil
		})
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stream did not return after cancellation")
	}
	if sent >= 100 {
		t.Errorf("pacer drained the whole buffer (%d chunks) despite cancellation", sent)
	}
}

func TestOutStream_MuLawConvertsAndSends(t *testing.T) {
	var wire []byte
	s := audio.NewOutStream(audio.CodecMuLaw, 16000, time.Millisecond, func(_ context.Context, chunk []byte) error {
		wire = append(wire, chunk...)
		return nil
	})

	pcm := samplesToBytes(make([]int16, 320)) // 20 ms at 16 kHz
	for i := range pcm {
		pcm[i] = byte(i) // arbitrary non-silent content
	}
	if err := s.Play(context.Background(), pcm); err != nil {
		t.Fatalf("Play: %v", err)
	}
	// 320 samples at 16 kHz → ~160 at 8 kHz → ~160 mu-law bytes.
	if len(wire) < 159 || len(wire) > 160 {
		t.Errorf("got %d wire bytes, want ~160", len(wire))
	}
}
