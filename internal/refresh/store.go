package refresh

import (
	"sort"
	"sync"
	"time"

	"visitical/internal/ics"
	appLog "visitical/internal/log"
	"visitical/internal/model"
)

// Entry is one decoded visit and where it came from.
type Entry struct {
	SourceID  string             `json:"source_id"`
	Visit     model.VisitRequest `json:"visit"`
	FromCache bool               `json:"from_cache"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store keeps the latest decoded visits per source in memory.
type Store struct {
	mu       sync.RWMutex
	bySource map[string][]Entry
}

func NewStore() *Store {
	return &Store{bySource: make(map[string][]Entry)}
}

// Replace swaps the visits recorded for sourceID.
func (s *Store) Replace(sourceID string, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) == 0 {
		delete(s.bySource, sourceID)
		return
	}
	s.bySource[sourceID] = entries
}

// Visits returns all stored visits ordered by arrival.
func (s *Store) Visits() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0)
	for _, entries := range s.bySource {
		out = append(out, entries...)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Visit, out[j].Visit
		if !a.ArrivalDate.Equal(b.ArrivalDate) {
			return a.ArrivalDate.Before(b.ArrivalDate)
		}
		if a.ArrivalTime != b.ArrivalTime {
			return a.ArrivalTime < b.ArrivalTime
		}
		return a.VisitID < b.VisitID
	})
	return out
}

// OccurrenceResult is the expansion of every stored visit.
type OccurrenceResult struct {
	Occurrences []model.Occurrence `json:"occurrences"`
	// TruncatedIDs lists visits whose expansion hit the cap.
	TruncatedIDs []string `json:"truncated_ids,omitempty"`
}

// Occurrences expands every stored visit within cfg's window. Visits that
// fail to expand are logged and skipped.
func (s *Store) Occurrences(cfg ics.ExpandConfig) OccurrenceResult {
	res := OccurrenceResult{Occurrences: []model.Occurrence{}}
	for _, e := range s.Visits() {
		r, err := ics.Occurrences(e.Visit, cfg)
		if err != nil {
			appLog.Error("occurrence expansion failed", err, "source_id", e.SourceID, "visit_id", e.Visit.VisitID)
			continue
		}
		if r.Truncated {
			res.TruncatedIDs = append(res.TruncatedIDs, e.Visit.VisitID)
		}
		res.Occurrences = append(res.Occurrences, r.Occurrences...)
	}

	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		return res.Occurrences[i].Start.Before(res.Occurrences[j].Start)
	})
	return res
}
