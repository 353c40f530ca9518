package pipeline

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Planner decomposes one incoming query into sub-tasks. Two mechanisms
// apply independently: literal multi-intent splitting (newlines, numbered
// enumerations, "and"-joined clauses), then per-fragment cue matching that
// upgrades a fragment to a specialized news or transcript task. Fragments
// matching nothing become generic tasks. Plans are immutable once built.
type Planner struct{}

func NewPlanner() *Planner { return &Planner{} }

var countries = map[string]struct{}{
	"india": {}, "china": {}, "japan": {}, "germany": {}, "france": {},
	"brazil": {}, "canada": {}, "australia": {}, "nigeria": {}, "mexico": {},
	"russia": {}, "italy": {}, "spain": {}, "egypt": {}, "kenya": {},
	"pakistan": {}, "bangladesh": {}, "indonesia": {}, "argentina": {},
	"turkey": {}, "iran": {}, "israel": {}, "ukraine": {}, "poland": {},
	"netherlands": {}, "sweden": {}, "norway": {}, "switzerland": {},
	"south korea": {}, "north korea": {}, "south africa": {},
	"saudi arabia": {}, "united states": {}, "united kingdom": {},
	"usa": {}, "uk": {}, "us": {},
}

var cities = map[string]struct{}{
	"delhi": {}, "mumbai": {}, "london": {}, "paris": {}, "tokyo": {},
	"berlin": {}, "madrid": {}, "rome": {}, "moscow": {}, "beijing": {},
	"shanghai": {}, "sydney": {}, "toronto": {}, "chicago": {},
	"new york": {}, "los angeles": {}, "san francisco": {}, "seattle": {},
	"boston": {}, "dubai": {}, "singapore": {}, "hong kong": {},
	"bangalore": {}, "lagos": {}, "cairo": {}, "nairobi": {},
	"sao paulo": {}, "mexico city": {}, "istanbul": {}, "seoul": {},
}

var months = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

var (
	enumSplitRe   = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]\s+|[-*]\s+)`)
	yearRe        = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	dayOfMonthRe  = regexp.MustCompile(`\b([0-3]?\d)(?:st|nd|rd|th)?\b`)
	newsCueRe     = regexp.MustCompile(`(?i)\b(latest news|top news|breaking news|news today|today'?s news|headlines?)\b`)
	transcriptRe  = regexp.MustCompile(`(?i)\b(full transcript|transcript of|full speech|speech of|keynote)\b`)
	andJoinRe     = regexp.MustCompile(`(?i)\s+and (?:also|then)?\s*`)
	fillerWordsRe = regexp.MustCompile(`(?i)\b(latest|top|breaking|news|today|in|of|the|full|transcript)\b`)
)

// Plan splits query into one or more sub-tasks. It never returns an empty
// plan for a non-empty query.
func (p *Planner) Plan(query string) []SubTask {
	var tasks []SubTask
	for _, fragment := range splitIntents(query) {
		tasks = append(tasks, p.classify(fragment))
	}
	if len(tasks) == 0 {
		tasks = append(tasks, p.classify(query))
	}
	return tasks
}

// splitIntents breaks the literal query text into independent fragments.
// Newlines and enumeration markers always split; "and"-joins split only
// when both sides look like standalone requests, so "salt and pepper"
// stays whole.
func splitIntents(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	marked := enumSplitRe.ReplaceAllString(query, "\n")
	var fragments []string
	for _, line := range strings.Split(marked, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fragments = append(fragments, splitAndJoin(line)...)
	}
	return fragments
}

func splitAndJoin(line string) []string {
	parts := andJoinRe.Split(line, -1)
	if len(parts) < 2 {
		return []string{line}
	}
	// every part must be substantial enough to stand alone as a request
	for _, part := range parts {
		if len(strings.Fields(part)) < 3 {
			return []string{line}
		}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (p *Planner) classify(fragment string) SubTask {
	task := SubTask{
		ID:    uuid.NewString(),
		Kind:  TaskGeneric,
		Query: fragment,
	}
	lower := strings.ToLower(fragment)

	if transcriptRe.MatchString(fragment) {
		task.Kind = TaskTranscript
		task.Title = transcriptTitle(fragment)
		task.Year = yearRe.FindString(fragment)
		return task
	}

	if newsCueRe.MatchString(fragment) {
		if place, scope := findPlace(lower); place != "" {
			task.Kind = TaskNews
			task.Place = place
			task.Scope = scope
			task.Month, task.Year = findMonthYear(lower)
			task.Date = findExplicitDate(lower)
			return task
		}
	}
	return task
}

// findPlace returns the longest known place mentioned and its scope.
// Longest-match wins so "south africa" beats a hypothetical "africa".
func findPlace(lower string) (place, scope string) {
	best := ""
	bestScope := ""
	for name := range countries {
		if containsWord(lower, name) && len(name) > len(best) {
			best, bestScope = name, "country"
		}
	}
	for name := range cities {
		if containsWord(lower, name) && len(name) > len(best) {
			best, bestScope = name, "city"
		}
	}
	return best, bestScope
}

func containsWord(haystack, phrase string) bool {
	idx := strings.Index(haystack, phrase)
	for idx >= 0 {
		beforeOK := idx == 0 || !isWordChar(haystack[idx-1])
		after := idx + len(phrase)
		afterOK := after >= len(haystack) || !isWordChar(haystack[after])
		if beforeOK && afterOK {
			return true
		}
		next := strings.Index(haystack[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func findMonthYear(lower string) (month, year string) {
	for _, m := range months {
		if containsWord(lower, m) {
			month = m
			break
		}
	}
	year = yearRe.FindString(lower)
	return month, year
}

// findExplicitDate matches "12 march 2024" / "march 12 2024" style dates and
// returns them in "day month year" form, empty when absent.
func findExplicitDate(lower string) string {
	for _, m := range months {
		if !containsWord(lower, m) {
			continue
		}
		idx := strings.Index(lower, m)
		before := strings.TrimSpace(lower[:idx])
		after := strings.TrimSpace(lower[idx+len(m):])
		day := ""
		if f := strings.Fields(before); len(f) > 0 && dayOfMonthRe.MatchString(f[len(f)-1]) && len(f[len(f)-1]) <= 4 {
			day = dayOfMonthRe.FindString(f[len(f)-1])
		}
		if day == "" {
			if f := strings.Fields(after); len(f) > 0 && dayOfMonthRe.MatchString(f[0]) && len(f[0]) <= 4 && !yearRe.MatchString(f[0]) {
				day = dayOfMonthRe.FindString(f[0])
			}
		}
		year := yearRe.FindString(lower)
		if day != "" && year != "" {
			return day + " " + m + " " + year
		}
	}
	return ""
}

// transcriptTitle strips the request phrasing, leaving the event name.
func transcriptTitle(fragment string) string {
	s := transcriptRe.ReplaceAllString(fragment, "")
	s = fillerWordsRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}
