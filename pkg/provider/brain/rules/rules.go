// Package rules implements a brain.Provider that answers common caller
// phrases from a rule table before touching the language model.
//
// Each rule maps a set of trigger phrases to a canned reflex asset. An
// incoming transcript is compared against the triggers with Double
// Metaphone phonetic encoding combined with Jaro-Winkler string similarity,
// so narrowband telephone transcripts ("uh huh", "yeah sure") still hit
// their rule when the recogniser mangles them slightly. Transcripts that
// match no rule are delegated to the wrapped provider.
package rules

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/zentrylabs/zentry/pkg/provider/brain"
)

const defaultThreshold = 0.88

// Compile-time assertion that Provider satisfies brain.Provider.
var _ brain.Provider = (*Provider)(nil)

// Rule maps trigger phrases to a reflex asset.
type Rule struct {
	// Phrases are the spoken forms that trigger this rule.
	Phrases []string
	// Asset names the pre-rendered audio asset to play.
	Asset string
	// Log is the human-readable form of the canned reply for call logs.
	Log string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.88.
func WithThreshold(threshold float64) Option {
	return func(p *Provider) {
		p.threshold = threshold
	}
}

// Provider matches transcripts against a rule table and falls back to the
// inner provider when nothing matches. It is read-only after construction
// and safe for concurrent use.
type Provider struct {
	inner     brain.Provider
	rules     []compiledRule
	threshold float64
}

// compiledRule carries a rule's phrases with their phonetic codes
// precomputed at construction time.
type compiledRule struct {
	rule    Rule
	phrases []compiledPhrase
}

type compiledPhrase struct {
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// New creates a Provider wrapping inner with the given rule table. Rules
// with no phrases or no asset are skipped.
func New(inner brain.Provider, ruleTable []Rule, opts ...Option) *Provider {
	p := &Provider{
		inner:     inner,
		threshold: defaultThreshold,
	}
	for _, o := range opts {
		o(p)
	}

	for _, r := range ruleTable {
		if r.Asset == "" || len(r.Phrases) == 0 {
			continue
		}
		cr := compiledRule{rule: r}
		for _, phrase := range r.Phrases {
			lower := strings.ToLower(strings.TrimSpace(phrase))
			if lower == "" {
				continue
			}
			tokens := strings.Fields(lower)
			cr.phrases = append(cr.phrases, compiledPhrase{
				lower:  lower,
				tokens: tokens,
				codes:  codesForTokens(tokens),
			})
		}
		if len(cr.phrases) > 0 {
			p.rules = append(p.rules, cr)
		}
	}
	return p
}

// Respond implements brain.Provider. A transcript that matches a rule
// returns that rule's Reflex without consulting the inner provider;
// everything else is delegated.
func (p *Provider) Respond(ctx context.Context, req brain.Request) (brain.Reply, error) {
	if rule, ok := p.match(req.Text); ok {
		return brain.Reflex{Asset: rule.Asset, Log: rule.Log}, nil
	}
	return p.inner.Respond(ctx, req)
}

// Close implements brain.Provider by closing the wrapped provider.
func (p *Provider) Close() error {
	return p.inner.Close()
}

// match returns the first rule whose phrases align with the transcript.
//
// A phrase matches when its Double Metaphone codes overlap the
// transcript's AND the Jaro-Winkler similarity of the full strings meets
// the threshold. Exact lower-cased equality short-circuits both checks.
func (p *Provider) match(text string) (Rule, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	lower = strings.Trim(lower, ".,!?")
	if lower == "" {
		return Rule{}, false
	}
	tokens := strings.Fields(lower)
	codes := codesForTokens(tokens)

	for _, cr := range p.rules {
		for _, phrase := range cr.phrases {
			if phrase.lower == lower {
				return cr.rule, true
			}
			if !codesOverlap(codes, phrase.codes) {
				continue
			}
			if matchr.JaroWinkler(lower, phrase.lower, false) >= p.threshold {
				return cr.rule, true
			}
		}
	}
	return Rule{}, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		pri, sec := matchr.DoubleMetaphone(t)
		if pri != "" {
			codes[pri] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
