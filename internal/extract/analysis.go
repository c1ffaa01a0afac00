package extract

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Severity bounds.
const (
	MinSeverity = 0
	MaxSeverity = 5
)

// Analysis is a validated single-event classification.
type Analysis struct {
	Severity           int    `json:"severity_rating"`
	AttackType         string `json:"attack_type,omitempty"`
	RatingReason       string `json:"rating_reason,omitempty"`
	SecurityAnalysis   string `json:"security_analysis"`
	RecommendedActions string `json:"recommended_actions"`
}

// rating_reason is optional for backward compatibility with older prompts.
var requiredAnalysisFields = []string{"severity_rating", "security_analysis", "recommended_actions"}

// ParseAnalysis extracts and validates an Analysis from raw model output.
func ParseAnalysis(raw string) (*Analysis, error) {
	obj, err := locateObject(raw)
	if err != nil {
		return nil, err
	}

	for _, f := range requiredAnalysisFields {
		if !present(obj.Get(f)) {
			e := missing(f)
			e.Snippet = Truncate(raw, SnippetLen)
			return nil, e
		}
	}

	sev, sevErr := severity(obj.Get("severity_rating"))
	if sevErr != nil {
		sevErr.Snippet = Truncate(raw, SnippetLen)
		return nil, sevErr
	}

	return &Analysis{
		Severity:           sev,
		AttackType:         text(obj.Get("attack_type")),
		RatingReason:       text(obj.Get("rating_reason")),
		SecurityAnalysis:   text(obj.Get("security_analysis")),
		RecommendedActions: text(obj.Get("recommended_actions")),
	}, nil
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// severity accepts only JSON integer literals in range. Floats, numeric
// strings and booleans are rejected.
func severity(r gjson.Result) (int, *Error) {
	if !present(r) {
		return 0, missing("severity_rating")
	}
	if r.Type != gjson.Number || strings.ContainsAny(r.Raw, ".eE") {
		return 0, invalidSeverity(r.Raw, "not an integer")
	}
	n, err := strconv.Atoi(r.Raw)
	if err != nil {
		return 0, invalidSeverity(r.Raw, "not an integer")
	}
	if n < MinSeverity || n > MaxSeverity {
		return 0, invalidSeverity(r.Raw, "out of range 0..5")
	}
	return n, nil
}

// text flattens a field to a string. Arrays of strings become one line per
// element, which covers models that list recommended actions.
func text(r gjson.Result) string {
	if !present(r) {
		return ""
	}
	if r.IsArray() {
		items := r.Array()
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(it.String()); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	}
	return r.String()
}
