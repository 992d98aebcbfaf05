// Package backend defines the gateway's view of an AI provider: its
// identity, capabilities, pricing, and the narrow Dispatcher contract the
// core invokes it through (spec §3, §4.1, §6.2). Concrete dispatchers
// (OpenAI, Anthropic, ...) are out of the core's scope; this package only
// defines the shape they must satisfy.
package backend

import (
	"context"
	"time"
)

// Capability is one of the closed set of capability tags a backend may
// advertise and a Request may require.
type Capability string

const (
	CapText         Capability = "text"
	CapChat         Capability = "chat"
	CapFunctionCall Capability = "function-call"
	CapEmbeddings   Capability = "embeddings"
	CapVision       Capability = "vision"
	CapLongContext  Capability = "long-context"
	CapFreeTier     Capability = "free-tier"
	CapCode         Capability = "code"
	CapReasoning    Capability = "reasoning"
)

// CapabilitySet is an unordered collection of capability tags.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a CapabilitySet from a variadic tag list.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the given capability.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// HasAll reports whether the set contains every capability in required.
func (s CapabilitySet) HasAll(required CapabilitySet) bool {
	for c := range required {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// TaskCategory is the closed set of request shapes spec §3 defines.
type TaskCategory string

const (
	CategoryTextGeneration TaskCategory = "text-generation"
	CategoryChatCompletion TaskCategory = "chat-completion"
	CategoryFunctionCall   TaskCategory = "function-calling"
	CategoryEmbeddings     TaskCategory = "embeddings"
)

// Pricing describes per-unit (per-token) cost and free-tier terms for a
// backend, reported by its Dispatcher's Pricing() method (spec §6.2).
type Pricing struct {
	CostPerInputUnit  float64
	CostPerOutputUnit float64
	FreeQuotaTotal    int64
	WindowSeconds     int64
}

// Sane reports whether a pricing declaration is plausibly per-token
// rather than a leftover per-1000-token value (spec §9's open-question
// resolution: cost unit is always per-token). Legitimate per-token prices
// for current-generation models are sub-cent; a value above 1.0 almost
// certainly means "per 1K tokens" crept in upstream. It does not modify
// the declaration.
func (p Pricing) Sane() bool {
	return p.CostPerInputUnit <= 1.0 && p.CostPerOutputUnit <= 1.0
}

// Usage reports actual input/output unit counts consumed by a dispatch.
type Usage struct {
	InputUnits  int64
	OutputUnits int64
}

// DispatchResult is a successful response from a Dispatcher.
type DispatchResult struct {
	Content         string
	Usage           Usage
	ModelIdentifier string
}

// Failure classifies a Dispatcher error into the taxonomy the core
// understands (spec §6.2, §7).
type FailureKind string

const (
	FailureTransient           FailureKind = "Transient"
	FailureRateLimited         FailureKind = "RateLimited"
	FailureAuthFailed          FailureKind = "AuthFailed"
	FailureMalformed           FailureKind = "Malformed"
	FailureTimeout             FailureKind = "Timeout"
	FailureContextExceeded     FailureKind = "ContextExceeded"
	FailureProviderUnavailable FailureKind = "ProviderUnavailable"
)

// Retryable reports whether the core should walk the fallback chain on
// this failure kind rather than surface it as terminal.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransient, FailureRateLimited, FailureTimeout, FailureProviderUnavailable:
		return true
	default:
		return false
	}
}

// DispatchError is the typed failure a Dispatcher returns.
type DispatchError struct {
	Kind    FailureKind
	Message string
}

func (e *DispatchError) Error() string { return string(e.Kind) + ": " + e.Message }

// Request describes one call the gateway is asked to route and dispatch
// (spec §3).
type Request struct {
	Category             TaskCategory
	EstimatedInputUnits   int64
	MaxOutputUnits        int64
	Priority              int // 0-10 caller priority
	Deadline              time.Time
	RequiredCapabilities  CapabilitySet
	PreferredBackends     []string
	ExcludedBackends      []string
	PreferFreeTier        bool
	PriorityAxis          PriorityAxis
	QualityScoreOverride  *float64 // caller-supplied quality hint; spec §9 open question
}

// PriorityAxis is the caller's stated optimization axis, used by the
// Fuzzy Scorer's rule-base weighting (spec §4.5).
type PriorityAxis string

const (
	AxisSpeed    PriorityAxis = "speed"
	AxisCost     PriorityAxis = "cost"
	AxisAccuracy PriorityAxis = "accuracy"
	AxisBalanced PriorityAxis = "balanced"
)

// Declarations are the static facts about a backend supplied at
// registration time (spec §4.1): capabilities, pricing, and a context
// window used to filter oversized requests.
type Declarations struct {
	Capabilities  CapabilitySet
	Pricing       Pricing
	ContextWindow int64 // max input+output units this backend accepts
}

// Dispatcher is the narrow interface every concrete backend adapter must
// implement (spec §6.2). The core never inspects a dispatcher beyond this
// contract.
type Dispatcher interface {
	// Dispatch sends req to the backend under ctx's deadline.
	Dispatch(ctx context.Context, req Request) (DispatchResult, error)
	// Capabilities returns this dispatcher's capability set.
	Capabilities() CapabilitySet
	// Pricing returns this dispatcher's cost and free-tier declaration.
	Pricing() Pricing
}

// Backend is the core's internal record for one registered backend:
// identity, declarations, and the dispatcher handle.
type Backend struct {
	ID           string
	Dispatcher   Dispatcher
	Declarations Declarations
}
