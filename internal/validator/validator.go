// Package validator gates candidate keywords through a composable rule set.
// Every rule runs for every candidate (no short-circuit) so the rejection
// histogram reflects all violations, not just the first one found.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"keywordforge/internal/keyword"
)

// Violation tags. These are stable identifiers used in reports; renaming one
// breaks downstream quality dashboards.
const (
	TagTermTooShort          = "term_too_short"
	TagTermTooLong           = "term_too_long"
	TagWordCountBelowMin     = "word_count_below_min"
	TagCharsNotAllowed       = "chars_not_allowed"
	TagVolumeBelowMin        = "volume_below_min"
	TagVolumeAboveMax        = "volume_above_max"
	TagCPCBelowMin           = "cpc_below_min"
	TagCPCAboveMax           = "cpc_above_max"
	TagCompetitionOutOfRange = "competition_out_of_range"
	TagScoreBelowMin         = "score_below_min"
	TagScoreAboveMax         = "score_above_max"
	TagIntentNotAllowed      = "intent_not_allowed"
	TagSourceNotAllowed      = "source_not_allowed"
	TagRequiredWordsMissing  = "required_words_missing"
	TagForbiddenWordsPresent = "forbidden_words_present"
	TagBlacklisted           = "blacklisted"
	TagNotWhitelisted        = "not_whitelisted"
)

// Options holds every rule knob. Zero values for the *Max knobs mean
// unbounded; zero CompetitionMax means the default cap.
type Options struct {
	MinLength int `yaml:"min_length"`
	MaxLength int `yaml:"max_length"`
	MinWords  int `yaml:"min_words"`

	AllowedCharPattern string `yaml:"allowed_char_pattern"`

	VolumeMin int `yaml:"volume_min"`
	VolumeMax int `yaml:"volume_max"`

	CPCMin float64 `yaml:"cpc_min"`
	CPCMax float64 `yaml:"cpc_max"`

	CompetitionMax float64 `yaml:"competition_max"`

	ScoreMin float64 `yaml:"score_min"`
	ScoreMax float64 `yaml:"score_max"`

	AllowedIntents []string `yaml:"allowed_intents"`
	AllowedSources []string `yaml:"allowed_sources"`

	RequiredWords  []string `yaml:"required_words"`
	ForbiddenWords []string `yaml:"forbidden_words"`
	Blacklist      []string `yaml:"blacklist"`
	Whitelist      []string `yaml:"whitelist"`
}

// DefaultOptions returns the standard quality gate.
func DefaultOptions() Options {
	return Options{
		MinLength:      3,
		MaxLength:      keyword.MaxTermLength,
		MinWords:       1,
		CompetitionMax: 0.8,
	}
}

// Detail records the per-candidate verdict: which checks ran and which
// violations were found. A candidate is accepted iff Violations is empty.
type Detail struct {
	ChecksRun  []string `json:"checks_run"`
	Violations []string `json:"violations"`
}

// Report aggregates verdicts over one candidate set.
type Report struct {
	TotalProcessed  int            `json:"total_processed"`
	TotalAccepted   int            `json:"total_accepted"`
	TotalRejected   int            `json:"total_rejected"`
	ViolationCounts map[string]int `json:"violation_counts"`
}

// rule is a single named check. A failing rule returns its violation tag.
type rule struct {
	name  string
	check func(keyword.Keyword) (tag string, ok bool)
}

// Validator applies the configured rule set.
type Validator struct {
	opts  Options
	rules []rule
}

// New compiles the rule set. An invalid character pattern is a construction
// error, not a per-candidate rejection.
func New(opts Options) (*Validator, error) {
	if opts.MaxLength <= 0 {
		opts.MaxLength = keyword.MaxTermLength
	}
	if opts.CompetitionMax <= 0 {
		opts.CompetitionMax = DefaultOptions().CompetitionMax
	}

	pattern := opts.AllowedCharPattern
	if pattern == "" {
		pattern = keyword.DefaultAllowedTermPattern
	}
	allowed, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("allowed char pattern: %w", err)
	}

	allowedIntents := lowerSet(opts.AllowedIntents)
	allowedSources := lowerSet(opts.AllowedSources)
	blacklist := lowerSet(opts.Blacklist)
	whitelist := lowerSet(opts.Whitelist)

	v := &Validator{opts: opts}
	v.rules = []rule{
		{"term_length", func(k keyword.Keyword) (string, bool) {
			n := utf8.RuneCountInString(k.Term)
			if n == 0 || n < opts.MinLength {
				return TagTermTooShort, false
			}
			if n > opts.MaxLength {
				return TagTermTooLong, false
			}
			return "", true
		}},
		{"word_count", func(k keyword.Keyword) (string, bool) {
			if len(strings.Fields(k.Term)) < opts.MinWords {
				return TagWordCountBelowMin, false
			}
			return "", true
		}},
		{"character_policy", func(k keyword.Keyword) (string, bool) {
			if k.Term == "" || !allowed.MatchString(k.Term) {
				return TagCharsNotAllowed, false
			}
			return "", true
		}},
		{"volume_range", func(k keyword.Keyword) (string, bool) {
			if k.SearchVolume < opts.VolumeMin {
				return TagVolumeBelowMin, false
			}
			if opts.VolumeMax > 0 && k.SearchVolume > opts.VolumeMax {
				return TagVolumeAboveMax, false
			}
			return "", true
		}},
		{"cpc_range", func(k keyword.Keyword) (string, bool) {
			if k.CPC < opts.CPCMin {
				return TagCPCBelowMin, false
			}
			if opts.CPCMax > 0 && k.CPC > opts.CPCMax {
				return TagCPCAboveMax, false
			}
			return "", true
		}},
		{"competition_range", func(k keyword.Keyword) (string, bool) {
			if k.Competition < 0 || k.Competition > opts.CompetitionMax {
				return TagCompetitionOutOfRange, false
			}
			return "", true
		}},
		{"score_range", func(k keyword.Keyword) (string, bool) {
			if k.Score < opts.ScoreMin {
				return TagScoreBelowMin, false
			}
			if opts.ScoreMax > 0 && k.Score > opts.ScoreMax {
				return TagScoreAboveMax, false
			}
			return "", true
		}},
		{"intent_allowed", func(k keyword.Keyword) (string, bool) {
			if len(allowedIntents) > 0 && !allowedIntents[k.Intent.String()] {
				return TagIntentNotAllowed, false
			}
			return "", true
		}},
		{"source_allowed", func(k keyword.Keyword) (string, bool) {
			if len(allowedSources) > 0 && !allowedSources[strings.ToLower(k.Source)] {
				return TagSourceNotAllowed, false
			}
			return "", true
		}},
		{"required_words", func(k keyword.Keyword) (string, bool) {
			term := strings.ToLower(k.Term)
			for _, w := range opts.RequiredWords {
				if !strings.Contains(term, strings.ToLower(w)) {
					return TagRequiredWordsMissing, false
				}
			}
			return "", true
		}},
		{"forbidden_words", func(k keyword.Keyword) (string, bool) {
			term := strings.ToLower(k.Term)
			for _, w := range opts.ForbiddenWords {
				if w != "" && strings.Contains(term, strings.ToLower(w)) {
					return TagForbiddenWordsPresent, false
				}
			}
			return "", true
		}},
		{"blacklist", func(k keyword.Keyword) (string, bool) {
			if blacklist[k.Key()] {
				return TagBlacklisted, false
			}
			return "", true
		}},
		{"whitelist", func(k keyword.Keyword) (string, bool) {
			if len(whitelist) > 0 && !whitelist[k.Key()] {
				return TagNotWhitelisted, false
			}
			return "", true
		}},
	}
	return v, nil
}

func lowerSet(words []string) map[string]bool {
	if len(words) == 0 {
		return nil
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return set
}

// ValidateOne runs every rule against one candidate. Rules never raise on
// candidate content; bad content is a violation, not an error.
func (v *Validator) ValidateOne(k keyword.Keyword) (bool, Detail) {
	detail := Detail{ChecksRun: make([]string, 0, len(v.rules))}
	for _, r := range v.rules {
		detail.ChecksRun = append(detail.ChecksRun, r.name)
		if tag, ok := r.check(k); !ok {
			detail.Violations = append(detail.Violations, tag)
		}
	}
	return len(detail.Violations) == 0, detail
}

// ValidateAll splits a candidate set into accepted and rejected and builds
// the aggregate report. |accepted| + |rejected| always equals |input|.
func (v *Validator) ValidateAll(candidates []keyword.Keyword) (accepted, rejected []keyword.Keyword, report Report) {
	report.ViolationCounts = make(map[string]int)
	for _, k := range candidates {
		ok, detail := v.ValidateOne(k)
		report.TotalProcessed++
		if ok {
			report.TotalAccepted++
			accepted = append(accepted, k)
			continue
		}
		report.TotalRejected++
		rejected = append(rejected, k)
		for _, tag := range detail.Violations {
			report.ViolationCounts[tag]++
		}
	}
	return accepted, rejected, report
}
