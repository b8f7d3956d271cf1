package timeline

import "time"

// CollapseThreshold is the run length above which consecutive call/huddle
// entries render as a single summary. A run of exactly CollapseThreshold
// entries still renders individually; only strictly longer runs collapse.
const CollapseThreshold = 5

// Group collapses long runs of consecutive call entries into summaries and
// inserts date separators at day boundaries.
//
// Input must be chronologically ascending (callers holding a descending list
// re-sort first, see history.Service). The pass structure:
//
//  1. Left-to-right scan buffering consecutive call entries; a non-call
//     entry or end of input flushes the buffer — runs longer than
//     CollapseThreshold emit one GroupSummary, shorter runs emit each entry
//     unchanged.
//  2. A second scan inserts a date separator whenever the day-granularity
//     date changes (summaries compare by LastCallDate).
//
// O(n) total. Defensive: nil input yields an empty timeline, malformed
// entries pass through as opaque entries, nothing panics.
func Group(entries []Entry) []Entry {
	collapsed := collapseRuns(entries)
	return insertDateSeparators(collapsed)
}

func collapseRuns(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	run := make([]Entry, 0, CollapseThreshold+1)

	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) > CollapseThreshold {
			out = append(out, summarize(run))
		} else {
			out = append(out, run...)
		}
		run = run[:0]
	}

	for _, e := range entries {
		if e.Kind == EntryKindCall && e.Call != nil {
			run = append(run, e)
			continue
		}
		flush()
		out = append(out, e)
	}
	flush()
	return out
}

func summarize(run []Entry) Entry {
	s := GroupSummary{TotalCount: len(run)}
	for i, e := range run {
		rec := e.Call
		if rec.Status.IsUnanswered() {
			s.MissedCount++
		} else {
			s.CompletedCount++
		}
		if rec.IsGroupCall {
			s.HuddleCount++
		} else {
			s.CallCount++
		}
		if i == 0 {
			s.FirstCallDate = rec.StartedAt
		}
		s.LastCallDate = rec.StartedAt
	}
	return Entry{Kind: EntryKindGroupSummary, Summary: &s, OccurredAt: s.LastCallDate}
}

func insertDateSeparators(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	var prev time.Time
	havePrev := false

	for _, e := range entries {
		// Existing separators anchor the running date but never trigger a
		// new separator in front of themselves; this keeps Group idempotent.
		if e.Kind == EntryKindDateSeparator {
			prev = e.Date
			havePrev = true
			out = append(out, e)
			continue
		}

		ts, ok := entryDate(e)
		if ok {
			day := ts.Truncate(24 * time.Hour)
			if !havePrev || !day.Equal(prev) {
				out = append(out, Entry{Kind: EntryKindDateSeparator, Date: day})
				prev = day
				havePrev = true
			}
		}
		out = append(out, e)
	}
	return out
}

// entryDate resolves the timestamp used for day segmentation.
func entryDate(e Entry) (time.Time, bool) {
	switch e.Kind {
	case EntryKindCall:
		if e.Call != nil && !e.Call.StartedAt.IsZero() {
			return e.Call.StartedAt, true
		}
	case EntryKindGroupSummary:
		if e.Summary != nil && !e.Summary.LastCallDate.IsZero() {
			return e.Summary.LastCallDate, true
		}
	case EntryKindOther:
		if !e.OccurredAt.IsZero() {
			return e.OccurredAt, true
		}
	}
	return time.Time{}, false
}
