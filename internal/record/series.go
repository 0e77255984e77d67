package record

import (
	"fmt"
	"math"
)

// Series is the accumulated history of a run, one entry per completed
// iteration. It is also the on-disk running-totals file.
type Series struct {
	// Iteration is the index of the last recorded iteration
	Iteration int `json:"it"`

	Beta []float64 `json:"beta"`
	Phi  []float64 `json:"phi"`
	PhiD []float64 `json:"phi_d"`
	PhiM []float64 `json:"phi_m"`

	// TargetMisfit is half the survey's data count, fixed at run start
	TargetMisfit float64 `json:"target_misfit"`

	// RunID ties the totals file to the snapshots written in the same run
	RunID string `json:"run_id,omitempty"`
}

// Len returns the number of recorded iterations.
func (s *Series) Len() int {
	return len(s.Beta)
}

// TargetIteration returns the first zero-based index whose data misfit
// is below the target misfit.
func (s *Series) TargetIteration() (int, bool) {
	for i, phiD := range s.PhiD {
		if phiD < s.TargetMisfit {
			return i, true
		}
	}
	return 0, false
}

// Validate checks that all sequences are index-aligned.
func (s *Series) Validate() error {
	n := len(s.Beta)
	if len(s.Phi) != n || len(s.PhiD) != n || len(s.PhiM) != n {
		return &ValidationError{
			Field:  "Series",
			Reason: fmt.Sprintf("length mismatch: beta=%d phi=%d phi_d=%d phi_m=%d", n, len(s.Phi), len(s.PhiD), len(s.PhiM)),
		}
	}
	if s.TargetMisfit < 0 {
		return &ValidationError{Field: "TargetMisfit", Reason: "cannot be negative"}
	}
	return nil
}

// Truncate keeps the first n entries of every sequence.
func (s *Series) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n > s.Len() {
		return
	}
	s.Beta = s.Beta[:n]
	s.Phi = s.Phi[:n]
	s.PhiD = s.PhiD[:n]
	s.PhiM = s.PhiM[:n]
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	return &Series{
		Iteration:    s.Iteration,
		Beta:         append([]float64{}, s.Beta...),
		Phi:          append([]float64{}, s.Phi...),
		PhiD:         append([]float64{}, s.PhiD...),
		PhiM:         append([]float64{}, s.PhiM...),
		TargetMisfit: s.TargetMisfit,
		RunID:        s.RunID,
	}
}

func (s *Series) append(state IterationState) {
	s.Iteration = state.Iteration
	s.Beta = append(s.Beta, state.Beta)
	s.Phi = append(s.Phi, state.Objective)
	s.PhiD = append(s.PhiD, state.PhiD)
	s.PhiM = append(s.PhiM, state.PhiM)
}

// Snapshot is the immutable record of a single iteration.
type Snapshot struct {
	Iteration int       `json:"it"`
	Beta      float64   `json:"beta"`
	PhiD      float64   `json:"phi_d"`
	PhiM      float64   `json:"phi_m"`
	Objective float64   `json:"f"`
	Model     []float64 `json:"m"`
	Predicted []float64 `json:"dpred"`
	RunID     string    `json:"run_id,omitempty"`
}

// IterationState is what the host loop reports at the end of an iteration.
type IterationState struct {
	Iteration int
	Beta      float64
	Objective float64
	PhiD      float64
	PhiM      float64
	Model     []float64
	Predicted []float64
}

// Validate rejects states that would leave the series partially appended.
func (st IterationState) Validate() error {
	if st.Iteration < 1 {
		return &ValidationError{Field: "Iteration", Reason: "must be positive"}
	}
	scalars := []struct {
		name string
		v    float64
	}{
		{"Beta", st.Beta},
		{"Objective", st.Objective},
		{"PhiD", st.PhiD},
		{"PhiM", st.PhiM},
	}
	for _, sc := range scalars {
		if math.IsNaN(sc.v) || math.IsInf(sc.v, 0) {
			return &ValidationError{Field: sc.name, Reason: "must be finite"}
		}
	}
	return nil
}

func (st IterationState) snapshot(runID string) *Snapshot {
	return &Snapshot{
		Iteration: st.Iteration,
		Beta:      st.Beta,
		PhiD:      st.PhiD,
		PhiM:      st.PhiM,
		Objective: st.Objective,
		Model:     append([]float64{}, st.Model...),
		Predicted: append([]float64{}, st.Predicted...),
		RunID:     runID,
	}
}
