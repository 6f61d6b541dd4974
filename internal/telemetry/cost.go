package telemetry

import "strings"

// modelRate is USD per one million tokens.
type modelRate struct {
	input  float64
	output float64
}

var modelRates = map[string]modelRate{
	"gpt-4o":      {input: 2.50, output: 10.00},
	"gpt-4o-mini": {input: 0.15, output: 0.60},
	"gpt-4.1":     {input: 2.00, output: 8.00},
	"o3-mini":     {input: 1.10, output: 4.40},
	"dry-run":     {input: 0, output: 0},
}

// defaultRate covers unknown models so cost is never silently zero.
var defaultRate = modelRate{input: 3.00, output: 15.00}

// CalculateCost derives the dollar cost of a usage record from the fixed
// rate table. Prefix match tolerates dated model suffixes.
func CalculateCost(usage TokenUsage) float64 {
	rate, ok := modelRates[usage.Model]
	if !ok {
		// Longest prefix wins so gpt-4o-mini never falls back to gpt-4o.
		best := ""
		for name, r := range modelRates {
			if strings.HasPrefix(usage.Model, name) && len(name) > len(best) {
				best, rate, ok = name, r, true
			}
		}
	}
	if !ok {
		rate = defaultRate
	}
	return float64(usage.InputTokens)/1e6*rate.input +
		float64(usage.OutputTokens)/1e6*rate.output
}
