package model

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Gemini text pricing per 1M tokens.
var defaultPricing = map[string]Pricing{
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-embedding-001":  {InputPerM: 0.15},
}

// ResolvePricing returns the pricing for a model, zero when unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// UsageLedger accumulates token usage and cost for one turn.
// Retrieval fans out, so it is safe for concurrent use.
type UsageLedger struct {
	mu               sync.Mutex
	calls            int
	promptTokens     int
	completionTokens int
	totalUSD         float64
}

// Record adds one model call and returns its cost.
func (l *UsageLedger) Record(model string, usage *schema.TokenUsage) float64 {
	if l == nil {
		return 0
	}
	_, _, total := ComputeCost(usage, ResolvePricing(model))
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if usage != nil {
		l.promptTokens += usage.PromptTokens
		l.completionTokens += usage.CompletionTokens
	}
	l.totalUSD += total
	return total
}

// Calls returns the number of recorded model calls.
func (l *UsageLedger) Calls() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// TotalUSD returns the accumulated cost.
func (l *UsageLedger) TotalUSD() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalUSD
}

type ledgerKey struct{}

// WithLedger attaches a ledger to ctx.
func WithLedger(ctx context.Context, l *UsageLedger) context.Context {
	return context.WithValue(ctx, ledgerKey{}, l)
}

// LedgerFrom returns the ledger attached to ctx, or nil.
func LedgerFrom(ctx context.Context) *UsageLedger {
	l, _ := ctx.Value(ledgerKey{}).(*UsageLedger)
	return l
}
