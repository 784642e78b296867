package domain

// Dimensions is the fixed-shape set of quality dimensions the oracle (or an
// injected evaluator) scores a task version against. Each value lies in
// [0,100].
type Dimensions struct {
	Correctness     float64 `json:"correctness"`
	Completeness    float64 `json:"completeness"`
	Robustness      float64 `json:"robustness"`
	Readability     float64 `json:"readability"`
	Maintainability float64 `json:"maintainability"`
	Complexity      float64 `json:"complexity"`
	Duplication     float64 `json:"duplication"`
	TestCoverage    float64 `json:"testCoverage"`
	TestQuality     float64 `json:"testQuality"`
	Security        float64 `json:"security"`
	Documentation   float64 `json:"documentation"`
	Style           float64 `json:"style"`
}

// dimensionWeight pairs a dimension accessor with its share of Overall. The
// weights sum to 110 (Overall divides by that total) and are process-wide: every QualityScores.Overall in
// the system is recomputed from this table, never stored independently of
// it. Replacing self-reported dimension scores with evaluator-reported
// ones always recomputes Overall from this table.
var dimensionWeight = []struct {
	name   string
	weight float64
	get    func(Dimensions) float64
}{
	{"correctness", 20, func(d Dimensions) float64 { return d.Correctness }},
	{"completeness", 15, func(d Dimensions) float64 { return d.Completeness }},
	{"testCoverage", 10, func(d Dimensions) float64 { return d.TestCoverage }},
	{"testQuality", 10, func(d Dimensions) float64 { return d.TestQuality }},
	{"robustness", 10, func(d Dimensions) float64 { return d.Robustness }},
	{"maintainability", 10, func(d Dimensions) float64 { return d.Maintainability }},
	{"security", 8, func(d Dimensions) float64 { return d.Security }},
	{"readability", 7, func(d Dimensions) float64 { return d.Readability }},
	{"complexity", 5, func(d Dimensions) float64 { return d.Complexity }},
	{"duplication", 5, func(d Dimensions) float64 { return d.Duplication }},
	{"documentation", 5, func(d Dimensions) float64 { return d.Documentation }},
	{"style", 5, func(d Dimensions) float64 { return d.Style }},
}

// QualityScores bundles the twelve-dimension breakdown with the weighted
// Overall score.
type QualityScores struct {
	Overall    float64    `json:"overall"`
	Dimensions Dimensions `json:"dimensions"`
}

// NewQualityScores computes Overall from dims using the fixed weight table
// and returns the resulting QualityScores. This is the only constructor
// that should be used to produce an Overall score: callers never set
// Overall directly.
func NewQualityScores(dims Dimensions) QualityScores {
	var sum, weight float64
	for _, dw := range dimensionWeight {
		sum += dw.get(dims) * dw.weight
		weight += dw.weight
	}
	overall := sum / weight
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	return QualityScores{Overall: overall, Dimensions: dims}
}
