package extract

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/warden/internal/event"
)

// Candidate is one campaign grouping proposed by the model. Fields are
// decoded independently per element; Err is set when the element itself is
// unusable, and never affects its siblings.
type Candidate struct {
	Index              int
	CampaignID         string
	AttackType         string
	EventIDs           []event.ID
	InvalidIDs         []string // raw elements that are not usable ids
	Severity           int
	SecurityAnalysis   string
	RecommendedActions string
	Err                error
}

// ParseCampaigns extracts the candidate campaign list from raw model output.
// The object must carry a "campaigns" array; an empty array is valid.
func ParseCampaigns(raw string) ([]Candidate, error) {
	obj, err := locateObject(raw)
	if err != nil {
		return nil, err
	}

	list := obj.Get("campaigns")
	if !list.Exists() {
		return nil, &Error{
			Kind:    KindUpstreamInvalid,
			Field:   "campaigns",
			Reason:  "campaign list missing",
			Snippet: Truncate(raw, SnippetLen),
		}
	}
	if !list.IsArray() {
		return nil, &Error{
			Kind:    KindUpstreamInvalid,
			Field:   "campaigns",
			Reason:  "campaign list is not an array",
			Value:   Truncate(list.Raw, 40),
			Snippet: Truncate(raw, SnippetLen),
		}
	}

	items := list.Array()
	out := make([]Candidate, 0, len(items))
	for i, it := range items {
		out = append(out, candidateFrom(i, it))
	}
	return out, nil
}

var requiredCampaignText = []string{"security_analysis", "recommended_actions"}

func candidateFrom(i int, r gjson.Result) Candidate {
	c := Candidate{Index: i}
	if !r.IsObject() {
		c.Err = &Error{Kind: KindUpstreamInvalid, Reason: "campaign is not an object", Value: Truncate(r.Raw, 40)}
		return c
	}

	c.CampaignID = strings.TrimSpace(text(r.Get("campaign_id")))
	c.AttackType = strings.TrimSpace(text(r.Get("attack_type")))
	c.SecurityAnalysis = text(r.Get("security_analysis"))
	c.RecommendedActions = text(r.Get("recommended_actions"))

	// severity_rating is the prompted key; some models answer with "severity".
	sevField := r.Get("severity_rating")
	if !present(sevField) {
		sevField = r.Get("severity")
	}
	sev, sevErr := severity(sevField)
	if sevErr != nil {
		c.Err = sevErr
		return c
	}
	c.Severity = sev

	ids := r.Get("affected_event_ids")
	if !present(ids) {
		c.Err = missing("affected_event_ids")
		return c
	}
	if !ids.IsArray() {
		c.Err = &Error{Kind: KindUpstreamInvalid, Field: "affected_event_ids", Reason: "not an array", Value: Truncate(ids.Raw, 40)}
		return c
	}
	for _, el := range ids.Array() {
		if id, ok := eventID(el); ok {
			c.EventIDs = append(c.EventIDs, id)
		} else {
			c.InvalidIDs = append(c.InvalidIDs, Truncate(el.Raw, 40))
		}
	}

	// same narrative requirements as a single-event analysis
	for _, f := range requiredCampaignText {
		if !present(r.Get(f)) {
			c.Err = missing(f)
			return c
		}
	}
	return c
}

func eventID(r gjson.Result) (event.ID, bool) {
	switch r.Type {
	case gjson.Number:
		if strings.ContainsAny(r.Raw, ".eE") {
			return "", false
		}
		return event.ID(r.Raw), true
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		return event.ID(s), s != ""
	default:
		return "", false
	}
}
