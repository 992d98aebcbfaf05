// Package fuzzy implements the Fuzzy Scorer (spec §4.5): a fixed rule
// base over triangular membership functions on responseTime,
// costEfficiency, qualityScore and load, producing a per-backend fitness
// score F in [0, inf).
package fuzzy

import "github.com/AlfredDev/aigw/backend"

// Triangle is a triangular membership function over a, b, c with peak
// membership 1.0 at b and zero membership at or beyond a/c.
type Triangle struct {
	A, B, C float64
}

// Membership returns the degree (0..1) to which x belongs to this set.
func (t Triangle) Membership(x float64) float64 {
	switch {
	case x <= t.A || x >= t.C:
		return 0
	case x == t.B:
		return 1
	case x < t.B:
		return (x - t.A) / (t.B - t.A)
	default:
		return (t.C - x) / (t.C - t.B)
	}
}

// Inputs are the four crisp inputs the rule base evaluates per backend.
type Inputs struct {
	ResponseTimeMs float64 // observed EMA response time
	CostEfficiency float64 // 0..1, higher is cheaper relative to a fixed reference price
	QualityScore   float64 // 0..1 caller/declared quality
	Load           float64 // 0..1, fraction of rate-limit capacity in use
}

// term is one labeled fuzzy set over one input variable.
type term struct {
	label string
	set   Triangle
}

var responseTimeTerms = []term{
	{"very_fast", Triangle{A: -100, B: 0, C: 300}},
	{"fast", Triangle{A: 0, B: 300, C: 900}},
	{"acceptable", Triangle{A: 300, B: 900, C: 2500}},
	{"slow", Triangle{A: 900, B: 2500, C: 12000}},
}

var costEfficiencyTerms = []term{
	{"premium", Triangle{A: -0.34, B: 0, C: 0.34}},
	{"expensive", Triangle{A: 0, B: 0.33, C: 0.67}},
	{"reasonable", Triangle{A: 0.33, B: 0.67, C: 1.0}},
	{"cheap", Triangle{A: 0.67, B: 1.0, C: 1.34}},
}

var qualityTerms = []term{
	{"poor", Triangle{A: -0.34, B: 0, C: 0.34}},
	{"average", Triangle{A: 0, B: 0.33, C: 0.67}},
	{"good", Triangle{A: 0.33, B: 0.67, C: 1.0}},
	{"excellent", Triangle{A: 0.67, B: 1.0, C: 1.34}},
}

var loadTerms = []term{
	{"idle", Triangle{A: -0.1, B: 0, C: 0.4}},
	{"busy", Triangle{A: 0.2, B: 0.5, C: 0.8}},
	{"saturated", Triangle{A: 0.6, B: 1, C: 1.1}},
}

// rule is one antecedent/consequent pair in the fixed rule base.
// Antecedents combine via min (fuzzy AND). axis, when non-empty, marks
// this rule as relevant to a caller's stated priority axis; such rules
// get a 1.5x context weight multiplier when the request's PriorityAxis
// matches (spec §4.5).
type rule struct {
	responseTime string
	cost         string
	quality      string
	load         string
	weight       float64
	axis         backend.PriorityAxis
}

var ruleBase = []rule{
	{responseTime: "very_fast", cost: "cheap", quality: "excellent", load: "idle", weight: 1.0},
	{responseTime: "fast", cost: "reasonable", quality: "good", load: "busy", weight: 0.85},
	{responseTime: "very_fast", quality: "good", weight: 0.9, axis: backend.AxisSpeed},
	{responseTime: "acceptable", cost: "cheap", quality: "average", weight: 0.6},
	{cost: "cheap", weight: 0.55, axis: backend.AxisCost},
	{quality: "excellent", weight: 0.55, axis: backend.AxisAccuracy},
	{responseTime: "fast", cost: "reasonable", quality: "average", load: "busy", weight: 0.7, axis: backend.AxisBalanced},
	{responseTime: "slow", load: "saturated", weight: 0.1},
	{quality: "poor", weight: 0.15},
	{cost: "premium", weight: 0.2},
	{cost: "expensive", weight: 0.3},
}

const contextWeightMultiplier = 1.5

func termMembership(terms []term, label string, x float64) (float64, bool) {
	if label == "" {
		return 1, true // absent antecedent never constrains the rule
	}
	for _, t := range terms {
		if t.label == label {
			return t.set.Membership(x), true
		}
	}
	return 0, false
}

// Score evaluates the rule base against in, weighting any rule that
// matches axis with the context multiplier, and returns the aggregate
// fitness F (spec §4.5: weighted sum of rule firing strengths).
func Score(in Inputs, axis backend.PriorityAxis) float64 {
	total := 0.0
	for _, r := range ruleBase {
		rt, ok := termMembership(responseTimeTerms, r.responseTime, in.ResponseTimeMs)
		if !ok {
			continue
		}
		cost, ok := termMembership(costEfficiencyTerms, r.cost, in.CostEfficiency)
		if !ok {
			continue
		}
		qual, ok := termMembership(qualityTerms, r.quality, in.QualityScore)
		if !ok {
			continue
		}
		load, ok := termMembership(loadTerms, r.load, in.Load)
		if !ok {
			continue
		}

		firing := min4(rt, cost, qual, load)
		if firing <= 0 {
			continue
		}

		weight := r.weight
		if r.axis != "" && r.axis == axis {
			weight *= contextWeightMultiplier
		}
		total += firing * weight
	}
	return total
}

func min4(a, b, c, d float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if d < m {
		m = d
	}
	return m
}
