package metadata

import (
	"context"

	"github.com/go-lcgw/lcgw/internal/orchestrator"
)

// Limits adapts the Metadata Cache to the Orchestrator's MetadataLookup
// interface (C10 §4.8 step 1: "if cached"). It never fetches — a cache
// miss or a model absent from the cached listing both report unknown
// limits, leaving truncation and cost estimation disabled for that
// call rather than blocking the hot path on a network round trip.
func (c *Cache) Limits(ctx context.Context, providerName, model string) *orchestrator.ModelLimits {
	cf, ok := c.fresh(providerName)
	if !ok {
		return nil
	}
	for _, m := range cf.Models {
		if m.ID == model {
			return &orchestrator.ModelLimits{
				ContextLength:   m.ContextLength,
				MaxOutputTokens: m.MaxOutputTokens,
				InputPricePerM:  m.InputPricePerM,
				OutputPricePerM: m.OutputPricePerM,
			}
		}
	}
	return nil
}
