package router

import "github.com/AlfredDev/aigw/backend"

// CheaperAlternative describes a same-capability backend that would have
// cost less than the one actually routed to. This is supplemental
// rationale enrichment: it never changes the routing decision, only
// explains the cost tradeoff the decision implied.
type CheaperAlternative struct {
	BackendID     string
	EstimatedCost float64
	SavingsRatio  float64 // 0..1, fraction of the chosen backend's cost saved
}

// FindCheaperAlternative scans candidates for the cheapest backend that
// still satisfies req's required capabilities and is not chosenID,
// returning it alongside the savings ratio relative to chosenCost. It
// reports ok=false if no cheaper qualifying alternative exists.
func FindCheaperAlternative(req backend.Request, candidates []Candidate, chosenID string, chosenCost float64) (CheaperAlternative, bool) {
	if chosenCost <= 0 {
		return CheaperAlternative{}, false
	}

	var best *Candidate
	bestCost := chosenCost

	for i := range candidates {
		c := candidates[i]
		if c.ID == chosenID {
			continue
		}
		if !c.Declarations.Capabilities.HasAll(req.RequiredCapabilities) {
			continue
		}
		cost := float64(req.EstimatedInputUnits)*c.Declarations.Pricing.CostPerInputUnit +
			float64(req.MaxOutputUnits)*c.Declarations.Pricing.CostPerOutputUnit
		if cost < bestCost {
			bestCost = cost
			best = &candidates[i]
		}
	}

	if best == nil {
		return CheaperAlternative{}, false
	}
	return CheaperAlternative{
		BackendID:     best.ID,
		EstimatedCost: bestCost,
		SavingsRatio:  (chosenCost - bestCost) / chosenCost,
	}, true
}
