package ledger

import "strings"

// Price is the per-million-token rate for one model.
type Price struct {
	InputPerMillion  float64 `json:"input_per_million" yaml:"input_per_million" toml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" yaml:"output_per_million" toml:"output_per_million"`
}

// Prices maps a model name, or a model name prefix, to its price.
type Prices map[string]Price

// DefaultPrices returns list prices for the models the providers ship with.
func DefaultPrices() Prices {
	return Prices{
		"gpt-4o":            {InputPerMillion: 2.5, OutputPerMillion: 10},
		"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.6},
		"gpt-4.1":           {InputPerMillion: 2, OutputPerMillion: 8},
		"gpt-4.1-mini":      {InputPerMillion: 0.4, OutputPerMillion: 1.6},
		"claude-3-5-sonnet": {InputPerMillion: 3, OutputPerMillion: 15},
		"claude-3-5-haiku":  {InputPerMillion: 0.8, OutputPerMillion: 4},
		"claude-sonnet-4":   {InputPerMillion: 3, OutputPerMillion: 15},
		"gemini-1.5-pro":    {InputPerMillion: 1.25, OutputPerMillion: 5},
		"gemini-1.5-flash":  {InputPerMillion: 0.075, OutputPerMillion: 0.3},
	}
}

// Lookup finds the price for model: an exact entry first, otherwise the
// longest entry that prefixes the model, so dated snapshots such as
// gpt-4o-2024-08-06 resolve to gpt-4o.
func (p Prices) Lookup(model string) (Price, bool) {
	if price, ok := p[model]; ok {
		return price, true
	}
	var (
		best  Price
		found bool
		n     int
	)
	for name, price := range p {
		if len(name) > n && strings.HasPrefix(model, name) {
			best, found, n = price, true, len(name)
		}
	}
	return best, found
}

// Cost prices u at model's rate. Unknown models cost zero.
func (p Prices) Cost(model string, u Usage) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1e6*price.InputPerMillion +
		float64(u.ResponseTokens)/1e6*price.OutputPerMillion
}
