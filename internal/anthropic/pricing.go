package anthropic

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

var prices = map[string]modelPrice{
	"claude-sonnet-4-20250514":  {Input: 3.00, Output: 15.00},
	"claude-opus-4-20250514":    {Input: 15.00, Output: 75.00},
	"claude-3-5-haiku-20241022": {Input: 0.80, Output: 4.00},
}

// fallbackPrice is used for unrecognized models so cost accounting degrades
// to a conservative estimate instead of zero.
var fallbackPrice = modelPrice{Input: 3.00, Output: 15.00}

// EstimateCost returns the estimated USD cost of a call's usage for the
// given model. Model matching is by exact name, then by family prefix.
func EstimateCost(model string, usage Usage) float64 {
	price, ok := prices[model]
	if !ok {
		price = fallbackPrice
		for name, p := range prices {
			family := name[:strings.LastIndex(name, "-")]
			if strings.HasPrefix(model, family) {
				price = p
				break
			}
		}
	}
	return float64(usage.PromptTokens)*price.Input/1e6 +
		float64(usage.CompletionTokens)*price.Output/1e6
}
