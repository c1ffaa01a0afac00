package extract

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseAnalysis_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Analysis
	}{
		{
			name: "bare object",
			raw:  `{"severity_rating":3,"security_analysis":"probe","recommended_actions":"watch","attack_type":"Recon"}`,
			want: Analysis{Severity: 3, SecurityAnalysis: "probe", RecommendedActions: "watch", AttackType: "Recon"},
		},
		{
			name: "json fence with prose",
			raw:  "Here is my analysis:\n```json\n{\"severity_rating\":5,\"security_analysis\":\"rce\",\"recommended_actions\":\"block\"}\n```\nLet me know.",
			want: Analysis{Severity: 5, SecurityAnalysis: "rce", RecommendedActions: "block"},
		},
		{
			name: "generic fence",
			raw:  "```\n{\"severity_rating\":0,\"security_analysis\":\"benign\",\"recommended_actions\":\"none\"}\n```",
			want: Analysis{Severity: 0, SecurityAnalysis: "benign", RecommendedActions: "none"},
		},
		{
			name: "uppercase json tag",
			raw:  "```JSON\n{\"severity_rating\":1,\"security_analysis\":\"a\",\"recommended_actions\":\"b\"}\n```",
			want: Analysis{Severity: 1, SecurityAnalysis: "a", RecommendedActions: "b"},
		},
		{
			name: "json fence preferred over earlier generic fence",
			raw:  "```text\n{\"severity_rating\":9}\n```\n```json\n{\"severity_rating\":2,\"security_analysis\":\"a\",\"recommended_actions\":\"b\"}\n```",
			want: Analysis{Severity: 2, SecurityAnalysis: "a", RecommendedActions: "b"},
		},
		{
			name: "rating reason kept",
			raw:  `{"severity_rating":4,"rating_reason":"47 attempts","security_analysis":"sqli","recommended_actions":"block ip"}`,
			want: Analysis{Severity: 4, RatingReason: "47 attempts", SecurityAnalysis: "sqli", RecommendedActions: "block ip"},
		},
		{
			name: "recommended actions as list",
			raw:  `{"severity_rating":4,"security_analysis":"x","recommended_actions":["Block IP"," Review logs ",""]}`,
			want: Analysis{Severity: 4, SecurityAnalysis: "x", RecommendedActions: "Block IP\nReview logs"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAnalysis(tt.raw)
			if err != nil {
				t.Fatalf("ParseAnalysis: %v", err)
			}
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseAnalysis_FencedRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Analysis{
		{Severity: 0, SecurityAnalysis: "nothing", RecommendedActions: "none"},
		{Severity: 3, AttackType: "Directory Scanning", RatingReason: "16 URIs", SecurityAnalysis: "scan of /wp-admin {and} more", RecommendedActions: "monitor"},
		{Severity: 5, AttackType: "RCE", SecurityAnalysis: "payload \"${jndi:ldap://x}\"", RecommendedActions: "block\nrotate keys"},
	}

	for _, want := range cases {
		b, err := json.MarshalIndent(want, "", "  ")
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		raw := "```json\n" + string(b) + "\n```"

		got, err := ParseAnalysis(raw)
		if err != nil {
			t.Fatalf("ParseAnalysis(%q): %v", raw, err)
		}
		if *got != want {
			t.Errorf("round trip = %+v, want %+v", *got, want)
		}
	}
}

func TestParseAnalysis_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   error
		wantField string
	}{
		{"severity out of range", `{"severity_rating": 6, "security_analysis":"x","recommended_actions":"y"}`, ErrInvalidSeverity, "severity_rating"},
		{"negative severity", `{"severity_rating": -1, "security_analysis":"x","recommended_actions":"y"}`, ErrInvalidSeverity, "severity_rating"},
		{"float severity", `{"severity_rating": 4.0, "security_analysis":"x","recommended_actions":"y"}`, ErrInvalidSeverity, "severity_rating"},
		{"exponent severity", `{"severity_rating": 4e0, "security_analysis":"x","recommended_actions":"y"}`, ErrInvalidSeverity, "severity_rating"},
		{"string severity", `{"severity_rating": "4", "security_analysis":"x","recommended_actions":"y"}`, ErrInvalidSeverity, "severity_rating"},
		{"bool severity", `{"severity_rating": true, "security_analysis":"x","recommended_actions":"y"}`, ErrInvalidSeverity, "severity_rating"},
		{"missing recommended actions", `{"severity_rating":3,"security_analysis":"x"}`, ErrMissingField, "recommended_actions"},
		{"missing analysis", `{"severity_rating":3,"recommended_actions":"y"}`, ErrMissingField, "security_analysis"},
		{"missing severity", `{"security_analysis":"x","recommended_actions":"y"}`, ErrMissingField, "severity_rating"},
		{"null severity", `{"severity_rating":null,"security_analysis":"x","recommended_actions":"y"}`, ErrMissingField, "severity_rating"},
		{"not json at all", `not json at all`, ErrMalformedJSON, ""},
		{"empty", ``, ErrMalformedJSON, ""},
		{"truncated object", `{"severity_rating":3,"security_analysis":"x`, ErrMalformedJSON, ""},
		{"array only", `[1,2,3]`, ErrMalformedJSON, ""},
		{"single quotes", `{'severity_rating': 3}`, ErrMalformedJSON, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAnalysis(tt.raw)
			if err == nil {
				t.Fatalf("expected error, got %+v", got)
			}
			if got != nil {
				t.Errorf("expected nil analysis on error, got %+v", got)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want kind %v", err, tt.wantErr)
			}
			var xe *Error
			if !errors.As(err, &xe) {
				t.Fatalf("err is %T, want *Error", err)
			}
			if xe.Field != tt.wantField {
				t.Errorf("field = %q, want %q", xe.Field, tt.wantField)
			}
		})
	}
}

func TestParseAnalysis_InvalidSeverityCarriesValue(t *testing.T) {
	t.Parallel()

	_, err := ParseAnalysis(`{"severity_rating": 6, "security_analysis":"x","recommended_actions":"y"}`)
	var xe *Error
	if !errors.As(err, &xe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if xe.Value != "6" {
		t.Errorf("value = %q, want 6", xe.Value)
	}
	if !strings.Contains(xe.Error(), "InvalidSeverity") {
		t.Errorf("Error() = %q, want kind name", xe.Error())
	}
}

func TestParseAnalysis_SnippetBounded(t *testing.T) {
	t.Parallel()

	raw := "garbage " + strings.Repeat("é", 5000)
	_, err := ParseAnalysis(raw)

	var xe *Error
	if !errors.As(err, &xe) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if n := utf8.RuneCountInString(xe.Snippet); n != SnippetLen {
		t.Errorf("snippet runes = %d, want %d", n, SnippetLen)
	}
	if !utf8.ValidString(xe.Snippet) {
		t.Error("snippet is not valid UTF-8")
	}
	if strings.Contains(xe.Error(), xe.Snippet) {
		t.Error("Error() should not embed the snippet")
	}
}

func TestLocate_Strategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "nested object kept whole",
			raw:  `Result: {"a":{"b":{"c":1}},"d":2} trailing`,
			want: `{"a":{"b":{"c":1}},"d":2}`,
		},
		{
			name: "first of multiple objects",
			raw:  `{"first":1} and also {"second":2}`,
			want: `{"first":1}`,
		},
		{
			name: "prose braces skipped",
			raw:  `Use the {placeholder} syntax. {"ok":true}`,
			want: `{"ok":true}`,
		},
		{
			name: "braces inside strings ignored",
			raw:  `{"msg":"a } tricky { string","n":1}`,
			want: `{"msg":"a } tricky { string","n":1}`,
		},
		{
			name: "escaped quotes inside strings",
			raw:  `{"msg":"he said \"}\" loudly","n":1}`,
			want: `{"msg":"he said \"}\" loudly","n":1}`,
		},
		{
			name: "unterminated fence",
			raw:  "```json\n{\"x\":1}\n",
			want: `{"x":1}`,
		},
		{
			name: "single line fence",
			raw:  "```{\"x\":1}```",
			want: `{"x":1}`,
		},
		{
			name: "fence without object falls back to whole text",
			raw:  "```\nno json here\n```\n{\"x\":2}",
			want: `{"x":2}`,
		},
		{
			name: "invalid first object then valid",
			raw:  `{not: valid} {"x":3}`,
			want: `{"x":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Locate(tt.raw)
			if err != nil {
				t.Fatalf("Locate: %v", err)
			}
			if got != tt.want {
				t.Errorf("Locate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocate_NeverPanics(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"{", "}", "{{{{", "}}}}{", "```", "``````", "```json", "```json```",
		`{"a":"\`, `"{"`, "\x00{\xff}", strings.Repeat("{", 2000),
		strings.Repeat(`{"a":`, 500),
		strings.Repeat("\xff", 10) + "```json{}",
		"\xff\xfe```JSON\n{",
		strings.Repeat("İ", 10) + "```json",
		"```jso",
	}
	for _, in := range inputs {
		if _, err := ParseAnalysis(in); err == nil {
			t.Errorf("ParseAnalysis(%q) = nil error, want failure", in)
		}
		_, _ = ParseCampaigns(in)
	}
}

func TestLocate_FenceTagMatchedOnOriginalBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"invalid utf8 before fence", "\xff\xff\xff note ```json\n{\"x\":1}\n``` {\"y\":2}"},
		{"case-shrinking rune before fence", "İİİİ ```json\n{\"x\":1}\n``` {\"y\":2}"},
		{"upper-case tag", "{\"y\":2} ```JSON\n{\"x\":1}\n```"},
		{"tag after doubled fence", "``````json\n{\"x\":1}```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Locate(tt.raw)
			if err != nil {
				t.Fatalf("Locate: %v", err)
			}
			if got != `{"x":1}` {
				t.Errorf("Locate = %q, want the fenced object", got)
			}
		})
	}
}

func TestLocate_LongUnbalancedRun(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("{", 200000) + `{"x":1}` + strings.Repeat("{", 200000)

	done := make(chan struct{})
	var (
		got string
		err error
	)
	go func() {
		defer close(done)
		got, err = Locate(raw)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Locate did not finish on a long unbalanced run")
	}
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != `{"x":1}` {
		t.Errorf("Locate = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("abc", 5); got != "abc" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc" {
		t.Errorf("Truncate = %q, want abc", got)
	}
	if got := Truncate("ééé", 2); got != "éé" {
		t.Errorf("Truncate multibyte = %q, want éé", got)
	}
}
