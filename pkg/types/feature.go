package types

import "time"

// FeatureRow is a single model input row aligned to a bar timestamp: the
// concatenation of selected indicator values and fuzzy memberships. No
// symbol identity may appear in Values — the model is symbol-agnostic by
// contract (spec.md §3).
type FeatureRow struct {
	Timestamp time.Time
	// Values holds one entry per configured feature column, in the order
	// given by FeatureNames on the owning FeatureSet.
	Values []float64
}

// FeatureSet is an ordered, named collection of FeatureRows plus the
// originating symbol for each row (used only for tagging at evaluation
// time — per spec.md §4.6 step 9 the symbol tag is never fed to the model).
type FeatureSet struct {
	FeatureNames []string
	Rows         []FeatureRow
	// Symbols[i] is the symbol that produced Rows[i]; not a model input.
	Symbols []string
}

// LabelClass is one element of a strategy-level label enum.
type LabelClass string

// Label is the target class assigned to a FeatureRow.
type Label struct {
	Timestamp time.Time
	Class     LabelClass
}

// LabelGeneratorKind enumerates the supported label-generator families.
// spec.md §9 notes that only directional-move is fully specified; others
// are documented extension points, not implemented.
type LabelGeneratorKind string

const (
	// LabelGeneratorDirectionalMove classifies the forward return over a
	// horizon H against +-threshold bands (Up/Down/Flat).
	LabelGeneratorDirectionalMove LabelGeneratorKind = "directional_move"
)

// LabelConfig configures a label generator.
type LabelConfig struct {
	Generator LabelGeneratorKind
	// Horizon is the number of bars forward the generator looks (H in spec.md §3).
	Horizon int
	// ThresholdUp/ThresholdDown are the +-tau bands around zero return
	// that separate Up/Down from Flat.
	ThresholdUp   float64
	ThresholdDown float64
}

const (
	LabelUp   LabelClass = "up"
	LabelDown LabelClass = "down"
	LabelFlat LabelClass = "flat"
)
