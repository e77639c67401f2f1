package replay

import (
	"fmt"
	"math"
	"strings"
)

const expectedPlayerCount = 10

const (
	VerdictExcellent = "excellent"
	VerdictGood      = "good"
	VerdictWarning   = "warning"
	VerdictError     = "error"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

type Roster struct {
	Blue []string
	Red  []string
}

func (r Roster) Names() []string {
	names := make([]string, 0, len(r.Blue)+len(r.Red))
	names = append(names, r.Blue...)
	names = append(names, r.Red...)
	return names
}

type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Report is computed per submission and never persisted. It gates
// replay acceptance and surfaces diagnostics to the submitter; the
// verdict is advisory, callers decide what to block on.
type Report struct {
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"maxScore"`
	Percentage int     `json:"percentage"`
	Issues     []Issue `json:"issues"`
	Verdict    string  `json:"verdict"`
}

// NameComparator reports whether an observed replay name matches an
// expected roster name. The default is deliberately loose; stricter
// normalized-key matching can be swapped in without touching scoring.
type NameComparator func(expected, observed string) bool

// DefaultNameComparator tries case-insensitive equality first, then
// substring containment in either direction to tolerate battletag vs
// truncated display-name forms.
func DefaultNameComparator(expected, observed string) bool {
	e := strings.ToLower(strings.TrimSpace(expected))
	o := strings.ToLower(strings.TrimSpace(observed))
	if e == "" || o == "" {
		return false
	}
	if e == o {
		return true
	}
	return strings.Contains(e, o) || strings.Contains(o, e)
}

type Scorer struct {
	compare NameComparator
}

func NewScorer() *Scorer {
	return &Scorer{compare: DefaultNameComparator}
}

func NewScorerWithComparator(compare NameComparator) *Scorer {
	if compare == nil {
		compare = DefaultNameComparator
	}
	return &Scorer{compare: compare}
}

// ScoreConsistency reconciles the roster recorded at match creation
// against the roster parsed from a submitted replay. Three checks each
// contribute up to one point: map identity, total player count, and
// expected-name overlap. Both map names must already be canonical
// display names.
func (s *Scorer) ScoreConsistency(expected Roster, observed Roster, expectedMap, observedMap string) Report {
	report := Report{
		MaxScore: 3,
		Issues:   make([]Issue, 0, 4),
	}

	if strings.EqualFold(strings.TrimSpace(expectedMap), strings.TrimSpace(observedMap)) && strings.TrimSpace(expectedMap) != "" {
		report.Score++
	} else {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("map mismatch: match was created on %q but replay is from %q", expectedMap, observedMap),
		})
	}

	observedCount := len(observed.Blue) + len(observed.Red)
	if observedCount == expectedPlayerCount {
		report.Score++
	} else {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("replay contains %d players, expected %d", observedCount, expectedPlayerCount),
		})
	}

	report.Score += s.scoreNameOverlap(expected, observed, &report)

	report.Percentage = int(math.Round(report.Score / report.MaxScore * 100))
	report.Verdict = verdictFor(report.Percentage)
	return report
}

func (s *Scorer) scoreNameOverlap(expected Roster, observed Roster, report *Report) float64 {
	expectedNames := expected.Names()
	if len(expectedNames) == 0 {
		// No formation-time roster to check against. Half credit
		// rather than penalizing an unverifiable submission.
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityInfo,
			Message:  "no expected roster recorded, name check is unverifiable",
		})
		return 0.5
	}

	observedNames := observed.Names()
	matched := 0
	for _, want := range expectedNames {
		for _, got := range observedNames {
			if s.compare(want, got) {
				matched++
				break
			}
		}
	}

	ratio := float64(matched) / float64(len(expectedNames))
	switch {
	case ratio >= 0.8:
		return 1
	case ratio >= 0.5:
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("only %d of %d expected players found in replay", matched, len(expectedNames)),
		})
		return 0.5
	default:
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityError,
			Message:  fmt.Sprintf("roster mismatch: %d of %d expected players found in replay", matched, len(expectedNames)),
		})
		return 0
	}
}

func verdictFor(percentage int) string {
	switch {
	case percentage >= 90:
		return VerdictExcellent
	case percentage >= 70:
		return VerdictGood
	case percentage >= 50:
		return VerdictWarning
	default:
		return VerdictError
	}
}
