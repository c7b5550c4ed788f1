package run

import (
	"bellstat/domain/core"
	"bellstat/domain/event"
	"bellstat/domain/stats"
	"bellstat/domain/trial"
)

// Record is the persisted unit: the descriptor, the sync it ran under, the
// result, and the raw distributions needed for later recombination.
type Record struct {
	Descriptor  Descriptor             `json:"descriptor"`
	Sync        event.SyncParameters   `json:"sync"`
	Matching    trial.Diagnostics      `json:"matching"`
	Result      *stats.StatisticResult `json:"result"`
	Permutation *stats.Distribution    `json:"permutation,omitempty"`
	Bootstrap   *stats.Distribution    `json:"bootstrap,omitempty"`
	CreatedAt   core.Timestamp         `json:"created_at"`
}

// NewDescriptor fills in identity, code version and fingerprint.
func NewDescriptor(name string, stat stats.Statistic, radius float64) Descriptor {
	d := Descriptor{
		RunID:       core.NewRunID(),
		Name:        name,
		Statistic:   stat,
		Radius:      radius,
		ShuffleMode: stats.ShufflePair,
		CodeVersion: CodeVersion,
	}
	d.Fingerprint = Fingerprint(d)
	return d
}

// Seal recomputes the fingerprint after fields were changed.
func (d Descriptor) Seal() Descriptor {
	d.Fingerprint = Fingerprint(d)
	return d
}

// Validate checks if the descriptor is complete
func (d Descriptor) Validate() error {
	if core.ID(d.RunID).IsEmpty() {
		return core.NewValidationError("descriptor", "run_id cannot be empty")
	}
	if d.Name == "" {
		return core.NewValidationError("descriptor", "name cannot be empty")
	}
	if err := d.Statistic.Validate(); err != nil {
		return core.NewValidationError("descriptor", err.Error())
	}
	if !(d.Radius > 0) {
		return core.NewValidationError("descriptor", "radius must be positive")
	}
	if d.CodeVersion == "" {
		return core.NewValidationError("descriptor", "code_version cannot be empty")
	}
	if d.Fingerprint != Fingerprint(d) {
		return core.NewValidationError("descriptor", "fingerprint does not match fields")
	}
	return nil
}

// NewRecord stamps a record with the current time.
func NewRecord(d Descriptor, sync event.SyncParameters, entry stats.ScanEntry, diag trial.Diagnostics) *Record {
	return &Record{
		Descriptor:  d,
		Sync:        sync,
		Matching:    diag,
		Result:      entry.Result,
		Permutation: entry.Permutation,
		Bootstrap:   entry.Bootstrap,
		CreatedAt:   core.Now(),
	}
}
