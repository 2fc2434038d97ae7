// Package reflex holds canned audio replies that are played directly on
// the call leg without invoking speech synthesis.
//
// Assets are loaded once at process start from a directory of .wav and
// .pcm files and are immutable afterwards, so lookups need no locking.
// The asset name is the file name without its extension.
package reflex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zentrylabs/zentry/pkg/audio"
)

// Store maps asset names to raw 16-bit mono PCM buffers at a single
// sample rate.
type Store struct {
	sampleRate int
	assets     map[string][]byte
}

// Load reads every .wav and .pcm file in dir and returns a Store whose
// buffers are normalised to sampleRate. WAV containers are unpacked and
// resampled from their native rate; .pcm files are assumed to already be
// raw 16-bit mono at sampleRate. Files that cannot be parsed are logged
// and skipped rather than failing startup.
//
// An empty or missing directory yields an empty store, which is valid:
// every Get simply misses.
func Load(dir string, sampleRate int) (*Store, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("reflex: invalid sample rate %d", sampleRate)
	}
	s := &Store{
		sampleRate: sampleRate,
		assets:     make(map[string][]byte),
	}
	if dir == "" {
		return s, nil
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("reflex: asset directory does not exist, starting empty", "dir", dir)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reflex: read asset dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".wav" && ext != ".pcm" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("reflex: skipping unreadable asset", "path", path, "error", err)
			continue
		}

		var pcm []byte
		if ext == ".wav" {
			pcm, err = unpackWAV(data, sampleRate)
			if err != nil {
				slog.Warn("reflex: skipping malformed asset", "path", path, "error", err)
				continue
			}
		} else {
			pcm = data
		}
		if len(pcm) == 0 {
			slog.Warn("reflex: skipping empty asset", "path", path)
			continue
		}

		s.assets[name] = pcm
		slog.Debug("reflex: loaded asset", "name", name, "bytes", len(pcm))
	}

	slog.Info("reflex: asset store ready", "dir", dir, "assets", len(s.assets))
	return s, nil
}

// Get returns the PCM buffer for name. The returned slice is shared and
// must not be modified.
func (s *Store) Get(name string) ([]byte, bool) {
	pcm, ok := s.assets[name]
	return pcm, ok
}

// Len returns the number of loaded assets.
func (s *Store) Len() int {
	return len(s.assets)
}

// SampleRate returns the rate all stored buffers are normalised to.
func (s *Store) SampleRate() int {
	return s.sampleRate
}

// unpackWAV extracts mono 16-bit PCM from a RIFF/WAVE container and
// resamples it to targetRate if the file's rate differs.
func unpackWAV(wav []byte, targetRate int) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		foundFmt   bool
	)

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return nil, errors.New("truncated fmt chunk")
			}
			fmtData := wav[offset+8:]
			channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bits = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, errors.New("data chunk before fmt chunk")
			}
			if channels != 1 || bits != 16 {
				return nil, fmt.Errorf("need mono 16-bit PCM, got %d channels at %d bits", channels, bits)
			}
			end := offset + 8 + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			pcm := wav[offset+8 : end]
			if sampleRate != targetRate {
				pcm = audio.ResampleMono16(pcm, sampleRate, targetRate)
			}
			return pcm, nil
		}

		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return nil, errors.New("missing data chunk")
}
