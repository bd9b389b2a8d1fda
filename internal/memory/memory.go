package memory

import (
	"context"
	"fmt"
	"time"
)

// Source lists the memory items currently known to the backend.
type Source interface {
	List(ctx context.Context) ([]Item, error)
}

// Item represents a unit of learned content as exposed by the backend.
type Item struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
	TimesSeen  int     `json:"times_seen"`
}

// Snapshot is one complete fetch of the item list.
// Seq orders snapshots by the moment their fetch started.
type Snapshot struct {
	Seq       uint64
	FetchedAt time.Time
	Items     []Item
}

// Len returns the number of items in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Items)
}

// Find returns the item with the given id.
func (s Snapshot) Find(id string) (Item, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Validate reports data problems in the snapshot. Items are still rendered
// when problems are found; callers only log them.
func (s Snapshot) Validate() []string {
	var problems []string
	seen := make(map[string]int, len(s.Items))
	for i, it := range s.Items {
		if it.ID == "" {
			problems = append(problems, fmt.Sprintf("item %d has no id", i))
		} else if first, dup := seen[it.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate id %q at %d and %d", it.ID, first, i))
		} else {
			seen[it.ID] = i
		}
		if it.TimesSeen < 0 {
			problems = append(problems, fmt.Sprintf("item %q has negative times_seen", it.ID))
		}
		if it.Confidence < 0 || it.Confidence > 1 {
			problems = append(problems, fmt.Sprintf("item %q confidence out of range", it.ID))
		}
		if it.Relevance < 0 || it.Relevance > 1 {
			problems = append(problems, fmt.Sprintf("item %q relevance out of range", it.ID))
		}
	}
	return problems
}
