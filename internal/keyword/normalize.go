package keyword

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultAllowedTermPattern is the restricted alphabet for candidate terms:
// letters, digits, underscore, space and the punctuation set -.,?!
const DefaultAllowedTermPattern = `^[\p{L}\p{N}_ \-.,?!]+$`

// MaxTermLength is the hard upper bound on a candidate term, in runes.
const MaxTermLength = 100

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizerOptions configures canonicalization.
type NormalizerOptions struct {
	CaseSensitive  bool   // keep original casing; default lowercases
	StripAccents   bool   // fold diacritics before validating
	AllowedPattern string // term alphabet; empty uses DefaultAllowedTermPattern
}

// Normalizer applies the deterministic canonicalization pass: trim, collapse
// whitespace, optional lowercasing and diacritic stripping, alphabet check,
// numeric clamping and first-wins deduplication with numeric merge.
type Normalizer struct {
	opts    NormalizerOptions
	allowed *regexp.Regexp
}

// NewNormalizer compiles the alphabet pattern once. An invalid pattern is a
// configuration error and surfaces here, not at run time.
func NewNormalizer(opts NormalizerOptions) (*Normalizer, error) {
	pattern := opts.AllowedPattern
	if pattern == "" {
		pattern = DefaultAllowedTermPattern
	}
	allowed, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Normalizer{opts: opts, allowed: allowed}, nil
}

// NormalizeTerm canonicalizes a single term. Terms failing the alphabet or
// length policy come back as the empty string; callers drop those.
func (n *Normalizer) NormalizeTerm(term string) string {
	t := strings.TrimSpace(term)
	t = whitespaceRun.ReplaceAllString(t, " ")
	if !n.opts.CaseSensitive {
		t = strings.ToLower(t)
	}
	if n.opts.StripAccents {
		t = stripAccents(t)
	}
	if t == "" || utf8.RuneCountInString(t) > MaxTermLength {
		return ""
	}
	if !n.allowed.MatchString(t) {
		return ""
	}
	return t
}

// Normalize canonicalizes a candidate list. Duplicates (by normalized term)
// collapse first-wins: the first occurrence keeps its position and identity,
// numeric fields merge as max(volume), max(cpc), mean(competition) across all
// occurrences. Terms failing the policy are dropped. Order is preserved.
func (n *Normalizer) Normalize(candidates []Keyword) []Keyword {
	out := make([]Keyword, 0, len(candidates))
	index := make(map[string]int, len(candidates))
	seen := make(map[string]int, len(candidates)) // occurrences per key, for the mean

	for _, c := range candidates {
		term := n.NormalizeTerm(c.Term)
		if term == "" {
			continue
		}

		c.Term = term
		c.SearchVolume = clampVolume(c.SearchVolume)
		c.CPC = clampCPC(c.CPC)
		c.Competition = clampCompetition(c.Competition)

		key := c.Key()
		if i, ok := index[key]; ok {
			kept := &out[i]
			if c.SearchVolume > kept.SearchVolume {
				kept.SearchVolume = c.SearchVolume
			}
			if c.CPC > kept.CPC {
				kept.CPC = c.CPC
			}
			prev := float64(seen[key])
			kept.Competition = (kept.Competition*prev + c.Competition) / (prev + 1)
			seen[key]++
			continue
		}

		index[key] = len(out)
		seen[key] = 1
		out = append(out, c)
	}
	return out
}

// stripAccents removes combining marks after NFD decomposition, so "café"
// folds to "cafe".
func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
