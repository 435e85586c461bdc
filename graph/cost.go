package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64 // Cost per 1M input tokens in USD
	OutputPer1M float64 // Cost per 1M output tokens in USD
}

// Static pricing map for the models codecraft is usually pointed at.
// Prices are in USD per 1M tokens and are subject to change.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.5-flash": {InputPer1M: 0.30, OutputPer1M: 2.50},
}

// LLMCall represents a single LLM API invocation with token usage and cost.
type LLMCall struct {
	Model        string    // Model identifier as configured (e.g., "openai/gpt-4o-mini")
	InputTokens  int       // Number of input tokens consumed
	OutputTokens int       // Number of output tokens generated
	CostUSD      float64   // Calculated cost in USD
	Timestamp    time.Time // When the call was recorded
	NodeID       string    // Node that made the call
}

// CostTracker tracks token usage and cost of the LLM calls made by one
// workflow run.
//
// Model identifiers are looked up in the pricing table as given and, failing
// that, with any router vendor prefix stripped ("openai/gpt-4o-mini" is priced
// as "gpt-4o-mini"). Unknown models are recorded with zero cost.
//
// Usage:
//
//	tracker := NewCostTracker("run-123", "USD")
//	tracker.RecordLLMCall("openai/gpt-4o-mini", 1000, 500, "architect")
//	total := tracker.GetTotalCost()
//
// Thread-safe: all methods use mutex protection.
type CostTracker struct {
	// RunID associates costs with a specific workflow execution
	RunID string

	// Currency is the cost unit (e.g., "USD")
	Currency string

	pricing      map[string]ModelPricing
	calls        []LLMCall
	totalCost    float64
	nodeCosts    map[string]float64
	inputTokens  int64
	outputTokens int64

	mu sync.RWMutex
}

// NewCostTracker creates a new cost tracker with the default pricing table.
func NewCostTracker(runID, currency string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		RunID:     runID,
		Currency:  currency,
		pricing:   pricing,
		calls:     make([]LLMCall, 0, 8),
		nodeCosts: make(map[string]float64),
	}
}

// RecordLLMCall records a single LLM API invocation and returns its cost.
//
// Cost is (inputTokens × inputPrice + outputTokens × outputPrice) / 1M.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.lookupPricing(model)
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})
	ct.totalCost += cost
	ct.nodeCosts[nodeID] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)

	return cost
}

// lookupPricing must be called with ct.mu held.
func (ct *CostTracker) lookupPricing(model string) ModelPricing {
	if p, ok := ct.pricing[model]; ok {
		return p
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		if p, ok := ct.pricing[model[i+1:]]; ok {
			return p
		}
	}
	return ModelPricing{}
}

// GetTotalCost returns the cumulative cost across all recorded LLM calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// GetCostByNode returns a copy of the per-node cost breakdown.
func (ct *CostTracker) GetCostByNode() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.nodeCosts))
	for node, cost := range ct.nodeCosts {
		costs[node] = cost
	}
	return costs
}

// GetCallHistory returns a copy of all recorded calls in order.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]LLMCall, len(ct.calls))
	copy(calls, ct.calls)
	return calls
}

// GetTokenUsage returns total input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// SetCustomPricing overrides pricing for a specific model.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// String returns a human-readable summary of cost tracking.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.6f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID, len(ct.calls), ct.totalCost, ct.Currency, ct.inputTokens, ct.outputTokens,
	)
}
