package drain

import (
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"alertrelay/internal/queue"
)

// Status is a read-only summary of the pending queue.
type Status struct {
	QueueDir      string         `json:"queue_dir"`
	Total         int            `json:"total"`
	ByDestination map[string]int `json:"by_destination"`
	Oldest        *time.Time     `json:"oldest,omitempty"`
	OldestAge     string         `json:"oldest_age,omitempty"`
}

// Summarize counts pending records per destination. Unreadable records count
// as "unknown".
func Summarize(q *queue.Queue, now time.Time) (Status, error) {
	st := Status{QueueDir: q.Dir(), ByDestination: map[string]int{}}
	entries, err := q.List()
	if err != nil {
		return st, err
	}
	for _, e := range entries {
		rec, err := q.Read(e)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				continue
			}
			st.Total++
			st.ByDestination["unknown"]++
			continue
		}
		st.Total++
		dest := string(rec.Destination)
		if dest == "" {
			dest = "unknown"
		}
		st.ByDestination[dest]++
		if !rec.CreatedAt.IsZero() && (st.Oldest == nil || rec.CreatedAt.Before(*st.Oldest)) {
			t := rec.CreatedAt
			st.Oldest = &t
		}
	}
	if st.Oldest != nil {
		st.OldestAge = humanize.RelTime(*st.Oldest, now, "ago", "from now")
	}
	return st, nil
}
