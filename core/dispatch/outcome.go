package dispatch

// Kind identifies the variant of a step Outcome.
type Kind int

const (
	// KindDeficit means demand exceeded renewable generation.
	KindDeficit Kind = iota
	// KindSurplus means renewable generation covered demand, possibly exactly.
	KindSurplus
)

func (k Kind) String() string {
	switch k {
	case KindDeficit:
		return "deficit"
	case KindSurplus:
		return "surplus"
	default:
		return "unknown"
	}
}

// Outcome is how one step's imbalance was resolved. The only implementations
// are Deficit and Surplus, so a step can never both charge and discharge, nor
// both import and export.
type Outcome interface {
	Kind() Kind
	sealed()
}

// Deficit is covered by storage discharge first, then grid import.
type Deficit struct {
	DischargeKW float64
	ImportKW    float64
}

// Surplus is absorbed by storage charge first, then grid export.
type Surplus struct {
	ChargeKW float64
	ExportKW float64
}

func (Deficit) Kind() Kind { return KindDeficit }
func (Surplus) Kind() Kind { return KindSurplus }

func (Deficit) sealed() {}
func (Surplus) sealed() {}
