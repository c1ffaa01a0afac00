package triage

import (
	"strings"
	"unicode"

	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/extract"
)

// Campaign is a validated group of batch events triaged as one unit.
type Campaign struct {
	CampaignID         string     `json:"campaign_id"`
	AttackType         string     `json:"attack_type,omitempty"`
	EventIDs           []event.ID `json:"affected_event_ids"`
	DroppedEventIDs    []string   `json:"dropped_event_ids,omitempty"`
	Severity           int        `json:"severity_rating"`
	SecurityAnalysis   string     `json:"security_analysis,omitempty"`
	RecommendedActions string     `json:"recommended_actions,omitempty"`
	Decision           Decision   `json:"triage"`
}

// Rejection records a candidate that produced no campaign.
type Rejection struct {
	Index      int    `json:"index"`
	CampaignID string `json:"campaign_id,omitempty"`
	Kind       string `json:"error_kind"`
	Reason     string `json:"reason"`
}

// Aggregate revalidates model-proposed candidates against the batch they were
// derived from.
//
// Ids not present in the batch are dropped and listed in DroppedEventIDs, as
// are ids already claimed by an earlier accepted campaign. Duplicates are
// collapsed in first-seen order. A candidate left with no ids, or one that
// failed extraction, is rejected. Every accepted campaign carries exactly one
// Decision.
func Aggregate(events []event.Event, candidates []extract.Candidate) ([]Campaign, []Rejection) {
	idx := event.Index(events)
	claimed := make(map[event.ID]string, len(events))

	var (
		accepted []Campaign
		rejected []Rejection
	)

	for i := range candidates {
		c := &candidates[i]
		if c.Err != nil {
			rejected = append(rejected, Rejection{
				Index:      c.Index,
				CampaignID: c.CampaignID,
				Kind:       KindOf(c.Err),
				Reason:     errorText(c.Err),
			})
			continue
		}

		var (
			ids     []event.ID
			dropped = append([]string(nil), c.InvalidIDs...)
			seen    = make(map[event.ID]struct{}, len(c.EventIDs))
		)
		for _, id := range c.EventIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			if _, ok := idx[id]; !ok {
				dropped = append(dropped, id.String())
				continue
			}
			if _, taken := claimed[id]; taken {
				dropped = append(dropped, id.String())
				continue
			}
			ids = append(ids, id)
		}

		if len(ids) == 0 {
			rejected = append(rejected, Rejection{
				Index:      c.Index,
				CampaignID: c.CampaignID,
				Kind:       string(extract.KindMissingField),
				Reason:     "affected_event_ids has no events from this batch",
			})
			continue
		}

		campaignID := c.CampaignID
		if campaignID == "" {
			first := events[idx[ids[0]]]
			campaignID = DeriveCampaignID(c.AttackType, first.SourceIP, first.ID)
		}
		for _, id := range ids {
			claimed[id] = campaignID
		}

		accepted = append(accepted, Campaign{
			CampaignID:         campaignID,
			AttackType:         c.AttackType,
			EventIDs:           ids,
			DroppedEventIDs:    dropped,
			Severity:           c.Severity,
			SecurityAnalysis:   c.SecurityAnalysis,
			RecommendedActions: c.RecommendedActions,
			Decision:           Classify(c.Severity),
		})
	}

	return accepted, rejected
}

// DeriveCampaignID builds "<attack-slug>_<source-ip>", falling back to the
// first event id when the source IP is unknown.
func DeriveCampaignID(attackType, sourceIP string, firstID event.ID) string {
	slug := slugify(attackType)
	if slug == "" {
		slug = "campaign"
	}
	suffix := strings.TrimSpace(sourceIP)
	if suffix == "" {
		suffix = "event" + firstID.String()
	}
	return slug + "_" + suffix
}

func slugify(s string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSep = false
			continue
		}
		if !lastSep {
			b.WriteByte('_')
			lastSep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
