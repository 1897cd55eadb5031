// Package selector decides which prior turns enter the prompt for a
// new message. Relevance (similarity score) determines membership,
// chronology determines presentation order.
package selector

import (
	"sort"

	"github.com/grigolet/memchat/internal/turn"
)

// Mode picks between full-history and similarity-filtered selection.
type Mode int

const (
	Full Mode = iota
	Filtered
)

// DefaultThreshold is the minimum similarity score for a turn to be
// kept in filtered mode.
const DefaultThreshold = 0.15

// Selection is the ordered context subset plus what gets reported back
// to the caller for transparency.
type Selection struct {
	Turns []turn.Turn
	// RelevantIDs lists every turn id considered relevant: all ids in
	// full mode, the pre-threshold score-map keys in filtered mode.
	RelevantIDs []int
	// Scores is the full id→score mapping in filtered mode, including
	// the forced entry for the newest turn. Empty in full mode.
	Scores map[int]float64
}

// Select applies the context policy. In filtered mode scores is the
// complete unfiltered mapping returned by the similarity oracle; the
// threshold is applied here, not by the oracle.
//
// The newest turn is always kept regardless of its score: a short or
// paraphrased follow-up often scores below threshold against its own
// immediate predecessor, and dropping it breaks conversational
// continuity.
func Select(history []turn.Turn, mode Mode, scores map[int]float64, threshold float64) Selection {
	if mode == Full {
		ids := make([]int, 0, len(history))
		for _, t := range history {
			ids = append(ids, t.ID)
		}
		return Selection{
			Turns:       append([]turn.Turn(nil), history...),
			RelevantIDs: ids,
			Scores:      map[int]float64{},
		}
	}

	merged := make(map[int]float64, len(scores)+1)
	for id, score := range scores {
		merged[id] = score
	}

	lastID := -1
	if len(history) > 0 {
		lastID = history[len(history)-1].ID
		if _, ok := merged[lastID]; !ok {
			merged[lastID] = 0.0
		}
	}

	kept := make([]int, 0, len(merged))
	relevant := make([]int, 0, len(merged))
	for id, score := range merged {
		relevant = append(relevant, id)
		if score >= threshold || id == lastID {
			kept = append(kept, id)
		}
	}
	sort.Ints(kept)
	sort.Ints(relevant)

	sel := Selection{RelevantIDs: relevant, Scores: merged}
	for _, id := range kept {
		if t, ok := Resolve(history, id); ok {
			sel.Turns = append(sel.Turns, t)
		}
	}
	return sel
}

// Resolve maps a turn id to its history entry. Id 0 is the legacy
// 0-based numbering still present in old vector-index entries; any
// other id is 1-based. Ids outside the history resolve to false so
// stale index entries are skipped instead of failing the request.
func Resolve(history []turn.Turn, id int) (turn.Turn, bool) {
	switch {
	case id == 0 && len(history) > 0:
		return history[0], true
	case id >= 1 && id <= len(history):
		return history[id-1], true
	}
	return turn.Turn{}, false
}
