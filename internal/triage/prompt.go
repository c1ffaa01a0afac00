package triage

import (
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/warden/internal/event"
)

const analystSystemPrompt = `You are Warden, a cybersecurity analyst triaging web application firewall events.
You rate each event on a 0-5 severity scale:
- 0: Not an issue
- 1: Informational
- 2: Low severity
- 3: Medium severity (requires monitoring)
- 4: High severity (requires escalation)
- 5: Critical incident (requires immediate escalation)

Answer with ONLY a single JSON object. No prose outside the JSON.`

const monitorSystemPrompt = `You are Warden, a security monitoring specialist. You review batches of open
web application firewall events and group them into attack campaigns: events that share
a source IP, an attack type and a similar timeframe.

Only report genuine repeated or coordinated attacks. Unrelated events must not be grouped.
Only use event ids that appear in the batch you were given.

Answer with ONLY a single JSON object. No prose outside the JSON.`

// buildAnalyzePrompt renders the user turn for a single-event analysis.
func buildAnalyzePrompt(ev *event.Event) string {
	data, _ := json.MarshalIndent(ev, "", "  ")

	return fmt.Sprintf(`Analyze this WAF event and provide:
1. severity_rating (0-5 integer)
2. rating_reason (one sentence explaining the rating)
3. security_analysis (detailed threat analysis)
4. recommended_actions (actionable recommendations)
5. attack_type (classification)

Event data:
%s

Return ONLY valid JSON with this structure:
{
  "severity_rating": <0-5>,
  "rating_reason": "<reason>",
  "security_analysis": "<analysis>",
  "recommended_actions": "<actions>",
  "attack_type": "<type>"
}`, string(data))
}

// buildMonitorPrompt renders the user turn for a campaign sweep over events.
func buildMonitorPrompt(events []event.Event) string {
	data, _ := json.MarshalIndent(events, "", "  ")

	return fmt.Sprintf(`Group these open WAF events into attack campaigns. For each campaign provide:
- campaign_id (unique identifier such as "sqli_192.168.1.100")
- attack_type (e.g. "SQL Injection", "XSS", "Credential Stuffing")
- affected_event_ids (ids of the events in this campaign)
- severity_rating (0-5 integer; repeated attacks are usually 4 or 5)
- security_analysis (describe the campaign)
- recommended_actions (actionable steps)

If the events are unrelated, return an empty campaigns list.

Events (%d total):
%s

Return ONLY valid JSON:
{
  "campaigns": [
    {
      "campaign_id": "<unique_id>",
      "attack_type": "<type>",
      "affected_event_ids": [101, 102, 103],
      "severity_rating": <0-5>,
      "security_analysis": "<analysis>",
      "recommended_actions": "<actions>"
    }
  ]
}`, len(events), string(data))
}
