package datamanager

import "github.com/ktrdr-io/ktrdr/pkg/types"

// LoadMode selects how much of a requested range DataManager is allowed to
// go to the provider for, per spec.md §4.3.
type LoadMode string

const (
	ModeLocal    LoadMode = "local"
	ModeTail     LoadMode = "tail"
	ModeBackfill LoadMode = "backfill"
	ModeFull     LoadMode = "full"
)

// QualityReport summarizes a loadData call: how many rows the returned
// frame holds (Total), how many of those were fetched from the provider,
// how many were repaired, and which Data gaps remain unresolved.
type QualityReport struct {
	Total         int
	Fetched       int
	Repaired      int
	RemainingGaps []types.Gap
	Incomplete    bool
}
