package opt

// Problem is a bounded minimization around a starting point: every
// coordinate of the solution stays within Radius of Center.
type Problem struct {
	Objective func([]float64) float64
	Center    []float64
	Radius    float64
}

// Result is the best point found.
type Result struct {
	X    []float64
	Cost float64
}

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	Minimize(p Problem) (*Result, error)
}
