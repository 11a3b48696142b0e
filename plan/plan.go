// Package plan classifies queries before retrieval: intent, named
// entities, and an optional time range. Everything here is a pure
// function of the query string.
package plan

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Intent labels what kind of answer a query is after.
type Intent string

const (
	IntentTemporal   Intent = "temporal"
	IntentEntity     Intent = "entity"
	IntentAnalytical Intent = "analytical"
	IntentFactual    Intent = "factual"
)

// Plan is the classification result handed to retrieval as metadata.
type Plan struct {
	Intent    Intent            `json:"intent"`
	Entities  []string          `json:"entities,omitempty"`
	TimeRange *TimeRange        `json:"time_range,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// TimeRange bounds a temporal query.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

var (
	temporalWords   = []string{"when", "schedule", "calendar", "date"}
	entityWords     = []string{"who", "person"}
	analyticalWords = []string{"compare", "analysis", "why", "how"}

	// Capitalized word sequences, e.g. "Project Alpha".
	entityPattern  = regexp.MustCompile(`[A-Z][a-z]+(\s[A-Z][a-z]+)*`)
	isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Classify plans a query. now anchors relative time ranges; pass
// time.Now() outside tests.
func Classify(query string, now time.Time) Plan {
	words := queryWords(query)

	p := Plan{Intent: intentOf(words)}
	p.Entities = entities(query)
	p.TimeRange = timeRange(query, words, now)
	if p.TimeRange != nil {
		p.Filters = map[string]string{
			"time_range": p.TimeRange.Start.Format("2006-01-02") + "|" + p.TimeRange.End.Format("2006-01-02"),
		}
	}
	return p
}

func queryWords(query string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		words[strings.Trim(w, ".,;:!?'\"()")] = true
	}
	return words
}

func intentOf(words map[string]bool) Intent {
	if containsAny(words, temporalWords) {
		return IntentTemporal
	}
	if containsAny(words, entityWords) {
		return IntentEntity
	}
	if containsAny(words, analyticalWords) {
		return IntentAnalytical
	}
	return IntentFactual
}

func containsAny(words map[string]bool, keys []string) bool {
	for _, k := range keys {
		if words[k] {
			return true
		}
	}
	return false
}

func entities(query string) []string {
	matches := entityPattern.FindAllString(query, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// timeRange picks explicit ISO dates when present, else defaults a
// temporal query to the last month.
func timeRange(query string, words map[string]bool, now time.Time) *TimeRange {
	if dates := isoDatePattern.FindAllString(query, -1); len(dates) > 0 {
		parsed := make([]time.Time, 0, len(dates))
		for _, d := range dates {
			if t, err := time.Parse("2006-01-02", d); err == nil {
				parsed = append(parsed, t)
			}
		}
		if len(parsed) > 0 {
			sort.Slice(parsed, func(a, b int) bool { return parsed[a].Before(parsed[b]) })
			return &TimeRange{Start: parsed[0], End: parsed[len(parsed)-1]}
		}
	}
	if containsAny(words, temporalWords) {
		return &TimeRange{Start: now.AddDate(0, -1, 0), End: now}
	}
	return nil
}
