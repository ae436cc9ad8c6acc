package lending

// marketVersion is the current market schema version understood by the
// persistence codec.
const marketVersion uint8 = 1

// LendingMarket groups a set of reserves under one owner and one quote
// currency. Its rate limiter bounds aggregate quote-value outflow across all
// reserves in the market.
type LendingMarket struct {
	Version uint8
	// Owner may update reserve configs and redeem protocol fees.
	Owner string
	// QuoteCurrency names the currency all market values are denominated in.
	QuoteCurrency string
	// RateLimiter tracks market-wide outflow in quote value.
	RateLimiter RateLimiter
}

// NewLendingMarket creates a market owned by owner.
func NewLendingMarket(owner, quoteCurrency string, limiter RateLimiterConfig, currentSlot uint64) *LendingMarket {
	return &LendingMarket{
		Version:       marketVersion,
		Owner:         owner,
		QuoteCurrency: quoteCurrency,
		RateLimiter:   NewRateLimiter(limiter, currentSlot),
	}
}
