package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":   {"silero"},
	"stt":   {"whisper"},
	"tts":   {"coqui", "openai"},
	"brain": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if sr := cfg.Audio.SampleRate; sr != 0 && sr != 8000 && sr != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: 8000, 16000", sr))
	}
	if sr := cfg.Audio.SynthSampleRate; sr < 0 {
		errs = append(errs, fmt.Errorf("audio.synth_sample_rate %d must be positive", sr))
	}
	if cfg.Audio.ChunkMs < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d must be positive", cfg.Audio.ChunkMs))
	}
	errs = append(errs, validateVAD(cfg.Audio.VAD)...)

	// Pools
	if cfg.Pools.GPU < 0 {
		errs = append(errs, fmt.Errorf("pools.gpu %d must not be negative", cfg.Pools.GPU))
	}
	if cfg.Pools.CPU < 0 {
		errs = append(errs, fmt.Errorf("pools.cpu %d must not be negative", cfg.Pools.CPU))
	}

	// ESL
	if cfg.ESL != nil {
		if cfg.ESL.Addr == "" {
			errs = append(errs, errors.New("esl.addr is required when the esl block is present"))
		}
		if cfg.ESL.MediaURL == "" {
			errs = append(errs, errors.New("esl.media_url is required when the esl block is present"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("brain", cfg.Providers.Brain.Name)
	for _, fb := range cfg.Providers.STT.Fallbacks {
		validateProviderName("stt", fb.Name)
	}
	for _, fb := range cfg.Providers.TTS.Fallbacks {
		validateProviderName("tts", fb.Name)
	}
	for _, fb := range cfg.Providers.Brain.Fallbacks {
		validateProviderName("brain", fb.Name)
	}
	if len(cfg.Providers.VAD.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.vad.fallbacks is not supported; detector sessions are stateful"))
	}

	// Local-model providers need a model path.
	if cfg.Providers.VAD.Name == "silero" && cfg.Providers.VAD.ModelPath == "" {
		errs = append(errs, errors.New("providers.vad.model_path is required for the silero provider"))
	}
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.ModelPath == "" {
		errs = append(errs, errors.New("providers.stt.model_path is required for the whisper provider"))
	}

	// Call store availability
	if cfg.CallStore.PostgresDSN == "" {
		slog.Warn("callstore.postgres_dsn is empty; call records will not survive a restart")
	}

	// Reflex rules
	assetSeen := make(map[string]int, len(cfg.Reflex.Rules))
	for i, rule := range cfg.Reflex.Rules {
		prefix := fmt.Sprintf("reflex.rules[%d]", i)
		if rule.Asset == "" {
			errs = append(errs, fmt.Errorf("%s.asset is required", prefix))
		} else {
			if prev, ok := assetSeen[rule.Asset]; ok {
				slog.Warn("duplicate reflex asset in rules",
					"asset", rule.Asset, "rule", i, "first_rule", prev)
			}
			assetSeen[rule.Asset] = i
		}
		if len(rule.Phrases) == 0 {
			errs = append(errs, fmt.Errorf("%s.phrases must not be empty", prefix))
		}
	}
	if len(cfg.Reflex.Rules) > 0 && cfg.Reflex.AssetsDir == "" {
		errs = append(errs, errors.New("reflex.assets_dir is required when reflex.rules are configured"))
	}

	return errors.Join(errs...)
}

// validateVAD checks the endpoint-detection tuning ranges. Zero values are
// permitted; they select the detector defaults.
func validateVAD(v VADConfig) []error {
	var errs []error
	if v.Threshold < 0 || v.Threshold > 1 {
		errs = append(errs, fmt.Errorf("audio.vad.threshold %.3f is out of range [0, 1]", v.Threshold))
	}
	if v.MinEnergy < 0 || v.MinEnergy > 1 {
		errs = append(errs, fmt.Errorf("audio.vad.min_energy %.3f is out of range [0, 1]", v.MinEnergy))
	}
	if v.ForceEnergy < 0 || v.ForceEnergy > 1 {
		errs = append(errs, fmt.Errorf("audio.vad.force_energy %.3f is out of range [0, 1]", v.ForceEnergy))
	}
	if v.EndpointSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("audio.vad.endpoint_silence_ms %d must be positive", v.EndpointSilenceMs))
	}
	if v.MaxUtteranceMs < 0 {
		errs = append(errs, fmt.Errorf("audio.vad.max_utterance_ms %d must be positive", v.MaxUtteranceMs))
	}
	if v.MinEnergy > 0 && v.ForceEnergy > 0 && v.ForceEnergy < v.MinEnergy {
		errs = append(errs, fmt.Errorf("audio.vad.force_energy %.3f must not be below min_energy %.3f", v.ForceEnergy, v.MinEnergy))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
