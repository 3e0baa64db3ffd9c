package models

// Complexity classifies how involved a request is expected to be.
type Complexity string

const (
	// ComplexitySimple indicates a short request touching one capability.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate indicates a request touching two or three capabilities.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex indicates four or more capabilities or explicit
	// multi-step language.
	ComplexityComplex Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// Strategy is the coordination pattern used to combine workers on one request.
type Strategy string

const (
	// StrategySequential invokes workers one at a time in capability
	// priority order, pipelining each worker's output to the next.
	StrategySequential Strategy = "sequential"
	// StrategyParallel invokes all selected workers concurrently.
	StrategyParallel Strategy = "parallel"
	// StrategyHierarchical invokes a lead worker first and prunes the
	// remaining dispatches based on its plan.
	StrategyHierarchical Strategy = "hierarchical"
	// StrategyConsensus fans the same capability out to several workers
	// and reconciles their answers by agreement.
	StrategyConsensus Strategy = "consensus"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHierarchical, StrategyConsensus:
		return true
	default:
		return false
	}
}

// TaskRequest is an incoming query plus optional structured context.
// It is immutable once submitted for dispatch.
type TaskRequest struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`
	// Text is the raw request text.
	Text string `json:"text"`
	// Context holds key-value attachments such as file references.
	Context map[string]string `json:"context,omitempty"`
}

// TaskAnalysis is the derived routing decision for one request.
// It is created once per request and discarded after dispatch completes.
type TaskAnalysis struct {
	// Capabilities is the ordered list of required capability tags,
	// highest priority first.
	Capabilities []Capability `json:"capabilities"`
	// Complexity is the estimated complexity class.
	Complexity Complexity `json:"complexity"`
	// Strategy is the chosen coordination strategy.
	Strategy Strategy `json:"strategy"`
}
