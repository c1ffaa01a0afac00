// Package extract recovers structured records from free-form model output.
//
// Model text is untrusted: it may wrap JSON in markdown fences, surround it
// with prose, emit several objects, or stop mid-object. Every entry point
// returns either a fully validated value or a typed *Error, and never panics.
//
// Location strategy: prefer the first fence tagged json, else the first
// generic fence, else the whole text. Inside that region each '{' is tried in
// order of its position, paired with its closing '}' by a single-pass
// brace scanner that skips string literals; the earliest candidate that is
// valid JSON wins. If the fenced
// region yields nothing the whole text is scanned the same way.
package extract

import (
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const fence = "```"

// Locate returns the raw text of the first valid JSON object in s.
func Locate(s string) (string, error) {
	if region, fenced := fencedRegion(s); fenced {
		if obj, ok := firstObject(region); ok {
			return obj, nil
		}
	}
	if obj, ok := firstObject(s); ok {
		return obj, nil
	}
	if strings.IndexByte(s, '{') < 0 {
		return "", malformed(s, "no JSON object found")
	}
	return "", malformed(s, "no parseable JSON object found")
}

// locateObject is Locate returning the parsed object.
func locateObject(s string) (gjson.Result, error) {
	raw, err := Locate(s)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.Parse(raw), nil
}

// fencedRegion returns the body of the preferred fenced block.
func fencedRegion(s string) (string, bool) {
	if i, ok := jsonFence(s); ok {
		return untilFence(s[i:]), true
	}

	i := strings.Index(s, fence)
	if i < 0 {
		return "", false
	}
	body := s[i+len(fence):]

	// drop an info string such as ```text on the opening line
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		info := strings.TrimSpace(body[:nl])
		if info != "" && !strings.ContainsAny(info, "{[\"") {
			body = body[nl+1:]
		}
	}
	return untilFence(body), true
}

// jsonFence returns the offset just past the first ```json tag in s, matched
// case-insensitively on the original bytes.
func jsonFence(s string) (int, bool) {
	const tag = "json"
	for off := 0; off < len(s); {
		j := strings.Index(s[off:], fence)
		if j < 0 {
			return 0, false
		}
		at := off + j + len(fence)
		if at+len(tag) <= len(s) && strings.EqualFold(s[at:at+len(tag)], tag) {
			return at + len(tag), true
		}
		off += j + 1
	}
	return 0, false
}

// untilFence cuts body at the closing fence. Unterminated blocks run to the end.
func untilFence(body string) string {
	if j := strings.Index(body, fence); j >= 0 {
		return body[:j]
	}
	return body
}

type span struct{ start, end int }

// firstObject returns the earliest-starting balanced {...} in s that is valid
// JSON. One pass pairs every brace; quotes only count inside an open brace,
// so prose quotes between objects do not flip string state. Unclosed braces
// are never retried, which keeps long runs like "{{{{" linear.
func firstObject(s string) (string, bool) {
	var (
		open     []int
		pending  []span
		inString bool
		escaped  bool
	)

	// pending holds spans closed since the stack was last empty; every span
	// in it starts after any span already checked.
	check := func() (string, bool) {
		sort.Slice(pending, func(a, b int) bool { return pending[a].start < pending[b].start })
		for _, sp := range pending {
			if cand := s[sp.start : sp.end+1]; gjson.Valid(cand) {
				return cand, true
			}
		}
		pending = pending[:0]
		return "", false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			pending = append(pending, span{start: open[len(open)-1], end: i})
			open = open[:len(open)-1]
			if len(open) == 0 {
				if obj, ok := check(); ok {
					return obj, true
				}
			}
		}
	}
	return check()
}
