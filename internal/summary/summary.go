// Package summary computes the aggregate statistics stored for each
// compacted period. Generate is pure: the same set of events always yields
// the same summary, whatever order the events arrive in.
package summary

import (
	"math"
	"strings"
	"time"

	"github.com/arkilian/eventarchive/pkg/types"
)

const (
	// DefaultTopN is the number of values kept per pattern dimension.
	DefaultTopN = 5

	// HighActivityMultiplier flags a day whose count exceeds this multiple of
	// the period's mean daily count (eventCount / days in month).
	HighActivityMultiplier = 2.0
)

// Options tunes summary generation.
type Options struct {
	TopN int
}

// PeriodSummary holds the statistics for one calendar month.
type PeriodSummary struct {
	Period     string         `json:"period"`
	EventCount int            `json:"eventCount"`
	ByType     map[string]int `json:"byType"`
	Patterns   Patterns       `json:"patterns"`
	DayOfWeek  map[string]int `json:"dayOfWeek"`
	HourOfDay  map[string]int `json:"hourOfDay"`
	Sessions   SessionStats   `json:"sessions"`
	Anomalies  Anomalies      `json:"anomalies"`
	FirstEvent *time.Time     `json:"firstEvent,omitempty"`
	LastEvent  *time.Time     `json:"lastEvent,omitempty"`
}

// PatternCount is one ranked value of a pattern dimension.
type PatternCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Patterns holds the top values per dimension.
type Patterns struct {
	// Tools ranks tool_call data.tool
	Tools []PatternCount `json:"tools"`
	// Commands ranks the first word of command data.command
	Commands []PatternCount `json:"commands"`
	// Files ranks file_edit data.path
	Files []PatternCount `json:"files"`
	// Errors ranks error data.message
	Errors []PatternCount `json:"errors"`
}

// SessionStats describes how events spread over sessions. Only events with a
// session id are attributed.
type SessionStats struct {
	Distinct            int             `json:"distinct"`
	AvgEventsPerSession float64         `json:"avgEventsPerSession"`
	Longest             *LongestSession `json:"longest,omitempty"`
}

// LongestSession is the session with the most events.
type LongestSession struct {
	SessionID  string `json:"sessionId"`
	EventCount int    `json:"eventCount"`
}

// DayCount is the event count of one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Anomalies lists unusual days in the period.
type Anomalies struct {
	ZeroActivityDays []string   `json:"zeroActivityDays"`
	HighActivityDays []DayCount `json:"highActivityDays"`
}

// Generate builds the summary for period from events. Events are not
// filtered by period; callers pass the period's events only.
func Generate(period types.Period, events []types.EventRecord, opts Options) *PeriodSummary {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	sorted := make([]types.EventRecord, len(events))
	copy(sorted, events)
	types.SortEvents(sorted)

	s := &PeriodSummary{
		Period:     period.String(),
		EventCount: len(sorted),
		ByType:     make(map[string]int),
		DayOfWeek:  make(map[string]int, 7),
		HourOfDay:  make(map[string]int, 24),
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		s.DayOfWeek[d.String()] = 0
	}
	for h := 0; h < 24; h++ {
		s.HourOfDay[hourKey(h)] = 0
	}

	tools := newCounter()
	commands := newCounter()
	files := newCounter()
	errs := newCounter()
	sessions := newCounter()
	perDay := make(map[string]int)

	for i := range sorted {
		e := &sorted[i]
		ts := e.Timestamp.UTC()

		s.ByType[string(e.Type)]++
		s.DayOfWeek[ts.Weekday().String()]++
		s.HourOfDay[hourKey(ts.Hour())]++
		perDay[ts.Format(types.DayLayout)]++

		if e.SessionID != "" {
			sessions.add(e.SessionID)
		}

		switch e.Type {
		case types.TypeToolCall:
			if v, ok := e.Data.String("tool"); ok {
				tools.add(v)
			}
		case types.TypeCommand:
			if v, ok := e.Data.String("command"); ok {
				if fields := strings.Fields(v); len(fields) > 0 {
					commands.add(fields[0])
				}
			}
		case types.TypeFileEdit:
			if v, ok := e.Data.String("path"); ok {
				files.add(v)
			}
		case types.TypeError:
			if v, ok := e.Data.String("message"); ok {
				errs.add(v)
			}
		}
	}

	s.Patterns = Patterns{
		Tools:    tools.top(topN),
		Commands: commands.top(topN),
		Files:    files.top(topN),
		Errors:   errs.top(topN),
	}

	s.Sessions.Distinct = len(sessions.order)
	if s.Sessions.Distinct > 0 {
		s.Sessions.AvgEventsPerSession = round2(float64(sessions.total) / float64(s.Sessions.Distinct))
		if best := sessions.top(1); len(best) == 1 {
			s.Sessions.Longest = &LongestSession{SessionID: best[0].Value, EventCount: best[0].Count}
		}
	}

	s.Anomalies = anomalies(period, perDay, len(sorted))

	if len(sorted) > 0 {
		first := sorted[0].Timestamp.UTC()
		last := sorted[len(sorted)-1].Timestamp.UTC()
		s.FirstEvent = &first
		s.LastEvent = &last
	}

	return s
}

func anomalies(period types.Period, perDay map[string]int, total int) Anomalies {
	a := Anomalies{
		ZeroActivityDays: []string{},
		HighActivityDays: []DayCount{},
	}

	dates := period.Dates()
	threshold := HighActivityMultiplier * float64(total) / float64(len(dates))
	for _, date := range dates {
		n := perDay[date]
		if n == 0 {
			a.ZeroActivityDays = append(a.ZeroActivityDays, date)
			continue
		}
		if float64(n) > threshold {
			a.HighActivityDays = append(a.HighActivityDays, DayCount{Date: date, Count: n})
		}
	}
	return a
}

func hourKey(h int) string {
	return string([]byte{byte('0' + h/10), byte('0' + h%10)})
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
