package telemetry

import (
	"sort"
	"time"
)

// GPUEntry is one row of the stats payload
type GPUEntry struct {
	ID         int     `json:"id"`
	Name       string  `json:"gpu_name"`
	HashrateMH float64 `json:"hashrate_mh"`
}

// StatsView is the payload served on /stats
type StatsView struct {
	TotalHashrateMH *float64   `json:"total_hashrate_mh"`
	GPUCount        int        `json:"gpu_count"`
	GPUs            []GPUEntry `json:"gpus"`
	LastUpdate      *float64   `json:"last_update"`
	Stale           bool       `json:"stale"`
}

// View builds the stats payload from the current state. The lock is
// only held while copying; sorting and staleness happen afterwards.
func (s *Store) View() StatsView {
	snap := s.Snapshot()
	return snap.View(s.clock.Now())
}

// View formats the snapshot as seen at now
func (snap Snapshot) View(now time.Time) StatsView {
	gpus := make([]GPUEntry, 0, len(snap.GPUs))
	for id, rec := range snap.GPUs {
		gpus = append(gpus, GPUEntry{ID: id, Name: rec.Name, HashrateMH: rec.HashrateMH})
	}
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].ID < gpus[j].ID })

	view := StatsView{
		TotalHashrateMH: snap.TotalMH,
		GPUCount:        len(gpus),
		GPUs:            gpus,
		Stale:           IsStale(snap.LastUpdate, now),
	}
	if !snap.LastUpdate.IsZero() {
		seconds := float64(snap.LastUpdate.UnixNano()) / float64(time.Second)
		view.LastUpdate = &seconds
	}
	return view
}

// IsStale reports whether telemetry last updated at lastUpdate is too
// old at now. A zero lastUpdate is always stale; an age of exactly
// StaleThreshold is not.
func IsStale(lastUpdate, now time.Time) bool {
	if lastUpdate.IsZero() {
		return true
	}
	return now.Sub(lastUpdate) > StaleThreshold
}
