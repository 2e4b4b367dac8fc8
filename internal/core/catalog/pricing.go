package catalog

import "strings"

// Pricing is USD per million input/output tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// priceTable holds per-model pricing by exact upstream id.
var priceTable = map[string]Pricing{
	"claude-opus-4-1-20250805":   {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-opus-4-20250514":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-7-sonnet-20250219": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.8, OutputPerMTok: 4.0},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
}

// prefixTable covers model families without an exact entry. The longest
// matching prefix wins.
var prefixTable = map[string]Pricing{
	"claude-opus":       {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-sonnet":     {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-haiku":      {InputPerMTok: 1.0, OutputPerMTok: 5.0},
	"claude-3-5-haiku":  {InputPerMTok: 0.8, OutputPerMTok: 4.0},
	"claude-3-opus":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-3-5-sonnet": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
}

// defaultPricing is the fixed tier applied when nothing in the tables
// matches.
var defaultPricing = Pricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}

// PriceFor resolves pricing for a model id: exact match, then longest prefix
// match, then the default tier.
func PriceFor(id string) Pricing {
	if p, ok := priceTable[id]; ok {
		return p
	}
	var (
		best    Pricing
		bestLen = -1
	)
	for prefix, p := range prefixTable {
		if strings.HasPrefix(id, prefix) && len(prefix) > bestLen {
			best = p
			bestLen = len(prefix)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return defaultPricing
}
