// internal/normalize/normalize.go
// Package normalize extracts calendar dates, two-endpoint date ranges,
// relative day words and day-count phrases from free question text.
// It is resolution only: it never guesses an intent.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"analytics-agent/pkg/toolspec"
)

// DefaultYear is assigned to any date written without a year. The dataset is
// fixed to a single year, so this is a dataset property, not a guess.
const DefaultYear = 2017

// ReferenceDate anchors today/yesterday/day-before resolution.
const ReferenceDate = "2017-12-04"

// AssumptionDefaultYear is recorded at most once per question, even when
// several matches triggered the default.
const AssumptionDefaultYear = "date had no year, defaulted to 2017"

// Result carries everything the normalizer resolved. Empty string / zero
// means "not found".
type Result struct {
	Dt          string // later endpoint for ranges
	PrevDt      string // earlier endpoint, ranges only
	Days        int
	Assumptions []string
}

// Normalizer resolves text against a fixed reference date.
type Normalizer struct {
	ref  time.Time
	year int
}

// New returns a Normalizer anchored at ref with the given default year.
func New(ref time.Time, defaultYear int) *Normalizer {
	return &Normalizer{ref: ref, year: defaultYear}
}

// Default returns a Normalizer on the dataset's fixed reference date.
func Default() *Normalizer {
	ref, _ := time.Parse("2006-01-02", ReferenceDate)
	return New(ref, DefaultYear)
}

var monthNames = map[string]int{
	"jan": 1, "january": 1,
	"feb": 2, "february": 2,
	"mar": 3, "march": 3,
	"apr": 4, "april": 4,
	"may": 5,
	"jun": 6, "june": 6,
	"jul": 7, "july": 7,
	"aug": 8, "august": 8,
	"sep": 9, "sept": 9, "september": 9,
	"oct": 10, "october": 10,
	"nov": 11, "november": 11,
	"dec": 12, "december": 12,
}

const monthAlt = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	// Two-endpoint ranges. Order of endpoints in text is irrelevant; the
	// result is always normalized to prev <= dt.
	reRangeZhFull  = regexp.MustCompile(`(\d{1,2})月(\d{1,2})[号日]?\s*[到至]\s*(\d{1,2})月(\d{1,2})[号日]?`)
	reRangeZhSame  = regexp.MustCompile(`(\d{1,2})月(\d{1,2})[号日]?\s*[到至]\s*(\d{1,2})[号日]?`)
	reRangeEn      = regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s*(\d{1,2})(?:st|nd|rd|th)?\s*(?:to|through|until|till|[-~])\s*(?:(` + monthAlt + `)\.?\s*)?(\d{1,2})(?:st|nd|rd|th)?\b`)
	reRangeNumeric = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})\s*(?:to|[-~]|到|至)\s*(\d{1,2})[./](\d{1,2})\b`)

	// Absolute dates.
	reISO     = regexp.MustCompile(`\b(20\d{2})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	reZhFull  = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})[号日]?`)
	reZhShort = regexp.MustCompile(`(\d{1,2})月(\d{1,2})[号日]?`)
	reEnShort = regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s*(\d{1,2})(?:st|nd|rd|th)?\b`)
	reNumeric = regexp.MustCompile(`\b(\d{1,2})[./\-](\d{1,2})\b`)

	// Day counts.
	reDaysZh = regexp.MustCompile(`(?:最近|近|过去|前)\s*(\d{1,3})\s*天`)
	reDaysEn = regexp.MustCompile(`(?i)\b(?:last|past|previous|recent)\s*(\d{1,3})\s*days?\b`)
)

// Normalize extracts dt/prev_dt/days from text. Fields not present in the
// text are left at their zero values.
func (n *Normalizer) Normalize(text string) Result {
	var res Result
	q := strings.TrimSpace(text)
	if q == "" {
		return res
	}

	if prev, dt, ok := n.matchRange(q); ok {
		res.PrevDt, res.Dt = prev, dt
		res.Assumptions = appendOnce(res.Assumptions, AssumptionDefaultYear)
	} else if dt, yearless, ok := n.matchDate(q); ok {
		res.Dt = dt
		if yearless {
			res.Assumptions = appendOnce(res.Assumptions, AssumptionDefaultYear)
		}
	} else if dt, ok := n.matchRelative(q); ok {
		res.Dt = dt
	}

	res.Days = n.matchDays(q)
	return res
}

func (n *Normalizer) matchRange(q string) (prev, dt string, ok bool) {
	if m := reRangeZhFull.FindStringSubmatch(q); m != nil {
		return n.orderRange(atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4]))
	}
	if m := reRangeZhSame.FindStringSubmatch(q); m != nil {
		mo := atoi(m[1])
		return n.orderRange(mo, atoi(m[2]), mo, atoi(m[3]))
	}
	if m := reRangeEn.FindStringSubmatch(q); m != nil {
		mo1 := monthNames[strings.ToLower(m[1])]
		mo2 := mo1
		if m[3] != "" {
			mo2 = monthNames[strings.ToLower(m[3])]
		}
		return n.orderRange(mo1, atoi(m[2]), mo2, atoi(m[4]))
	}
	if m := reRangeNumeric.FindStringSubmatch(q); m != nil {
		return n.orderRange(atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4]))
	}
	return "", "", false
}

func (n *Normalizer) orderRange(mo1, d1, mo2, d2 int) (prev, dt string, ok bool) {
	if !validMonthDay(mo1, d1) || !validMonthDay(mo2, d2) {
		return "", "", false
	}
	a := fmt.Sprintf("%04d-%02d-%02d", n.year, mo1, d1)
	b := fmt.Sprintf("%04d-%02d-%02d", n.year, mo2, d2)
	if a <= b {
		return a, b, true
	}
	return b, a, true
}

func (n *Normalizer) matchDate(q string) (dt string, yearless, ok bool) {
	if m := reISO.FindStringSubmatch(q); m != nil {
		y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if validMonthDay(mo, d) {
			return fmt.Sprintf("%04d-%02d-%02d", y, mo, d), false, true
		}
	}
	if m := reZhFull.FindStringSubmatch(q); m != nil {
		y, mo, d := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if validMonthDay(mo, d) {
			return fmt.Sprintf("%04d-%02d-%02d", y, mo, d), false, true
		}
	}
	if m := reZhShort.FindStringSubmatch(q); m != nil {
		mo, d := atoi(m[1]), atoi(m[2])
		if validMonthDay(mo, d) {
			return fmt.Sprintf("%04d-%02d-%02d", n.year, mo, d), true, true
		}
	}
	if m := reEnShort.FindStringSubmatch(q); m != nil {
		mo, d := monthNames[strings.ToLower(m[1])], atoi(m[2])
		if validMonthDay(mo, d) {
			return fmt.Sprintf("%04d-%02d-%02d", n.year, mo, d), true, true
		}
	}
	if m := reNumeric.FindStringSubmatch(q); m != nil {
		mo, d := atoi(m[1]), atoi(m[2])
		if validMonthDay(mo, d) {
			return fmt.Sprintf("%04d-%02d-%02d", n.year, mo, d), true, true
		}
	}
	return "", false, false
}

func (n *Normalizer) matchRelative(q string) (string, bool) {
	lower := strings.ToLower(q)
	switch {
	case strings.Contains(lower, "day before yesterday") || strings.Contains(q, "前天"):
		return n.ref.AddDate(0, 0, -2).Format("2006-01-02"), true
	case strings.Contains(lower, "yesterday") || strings.Contains(q, "昨天"):
		return n.ref.AddDate(0, 0, -1).Format("2006-01-02"), true
	case strings.Contains(lower, "today") ||
		containsAny(q, "今天", "当天", "当日", "那天"):
		return n.ref.Format("2006-01-02"), true
	}
	return "", false
}

func (n *Normalizer) matchDays(q string) int {
	if m := reDaysZh.FindStringSubmatch(q); m != nil {
		return toolspec.ClampDays(atoi(m[1]))
	}
	if m := reDaysEn.FindStringSubmatch(q); m != nil {
		return toolspec.ClampDays(atoi(m[1]))
	}
	lower := strings.ToLower(q)
	switch {
	case containsAny(lower, "past week", "last week", "this week", "a week") ||
		containsAny(q, "最近一周", "最近1周", "一周", "近一周", "这周", "本周", "上周"):
		return 7
	case containsAny(lower, "two weeks", "2 weeks", "fortnight") ||
		containsAny(q, "两周", "14天"):
		return 14
	case containsAny(lower, "half a month") || strings.Contains(q, "半个月"):
		return 15
	case containsAny(lower, "a month", "one month", "past month", "last month") ||
		containsAny(q, "一个月", "最近一月", "近一月"):
		return 30
	}
	return 0
}

// ExtractDates returns every explicit calendar date mentioned in text, in
// order of first appearance and deduplicated. Relative day words are not
// explicit dates; they are excluded. The validator uses this to check a
// plan's date coverage independently of the slot mapper.
func (n *Normalizer) ExtractDates(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	type hit struct {
		pos int
		dt  string
	}
	var hits []hit
	add := func(pos, y, mo, d int) {
		if validMonthDay(mo, d) {
			hits = append(hits, hit{pos, fmt.Sprintf("%04d-%02d-%02d", y, mo, d)})
		}
	}
	for _, m := range reISO.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], atoiAt(text, m, 1), atoiAt(text, m, 2), atoiAt(text, m, 3))
	}
	for _, m := range reZhFull.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], atoiAt(text, m, 1), atoiAt(text, m, 2), atoiAt(text, m, 3))
	}
	for _, m := range reZhShort.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], n.year, atoiAt(text, m, 1), atoiAt(text, m, 2))
	}
	for _, m := range reEnShort.FindAllStringSubmatchIndex(text, -1) {
		mo := monthNames[strings.ToLower(text[m[2]:m[3]])]
		add(m[0], n.year, mo, atoiAt(text, m, 2))
	}
	for _, m := range reNumeric.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], n.year, atoiAt(text, m, 1), atoiAt(text, m, 2))
	}

	seen := make(map[string]bool)
	var out []string
	// Stable order: first appearance wins.
	for len(hits) > 0 {
		min := 0
		for i := range hits {
			if hits[i].pos < hits[min].pos {
				min = i
			}
		}
		h := hits[min]
		hits = append(hits[:min], hits[min+1:]...)
		if !seen[h.dt] {
			seen[h.dt] = true
			out = append(out, h.dt)
		}
	}
	return out
}

func validMonthDay(mo, d int) bool {
	return mo >= 1 && mo <= 12 && d >= 1 && d <= 31
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// atoiAt reads submatch group g from a FindAllStringSubmatchIndex match.
func atoiAt(text string, m []int, g int) int {
	if 2*g+1 >= len(m) || m[2*g] < 0 {
		return 0
	}
	return atoi(text[m[2*g]:m[2*g+1]])
}

func appendOnce(list []string, note string) []string {
	for _, s := range list {
		if s == note {
			return list
		}
	}
	return append(list, note)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
