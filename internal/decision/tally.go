package decision

import (
	"sync/atomic"

	"github.com/hyperjump/semcache/internal/models"
)

// Tally counts decision outcomes. The zero value is ready to use.
type Tally struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// TallySnapshot is a point-in-time copy of a Tally.
type TallySnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Record counts d.
func (t *Tally) Record(d *models.Decision) {
	if d.Hit() {
		t.hits.Add(1)
		return
	}
	t.misses.Add(1)
}

// Snapshot returns the current counts.
func (t *Tally) Snapshot() TallySnapshot {
	s := TallySnapshot{Hits: t.hits.Load(), Misses: t.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Reset zeroes the counts.
func (t *Tally) Reset() {
	t.hits.Store(0)
	t.misses.Store(0)
}
