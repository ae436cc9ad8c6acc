package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"lendex/native/lending"
	"lendex/observability"
)

// Quote captures one price observation for a reserve's underlying token: the
// spot rate, an exponential moving average of recent spots, the reporter's
// confidence interval and the observation timestamp.
type Quote struct {
	Spot       *big.Rat
	Ema        *big.Rat
	Confidence *big.Rat
	Timestamp  time.Time
	Source     string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Spot != nil {
		clone.Spot = new(big.Rat).Set(q.Spot)
	}
	if q.Ema != nil {
		clone.Ema = new(big.Rat).Set(q.Ema)
	}
	if q.Confidence != nil {
		clone.Confidence = new(big.Rat).Set(q.Confidence)
	}
	return clone
}

// Oracle resolves the latest quote for an oracle reference.
type Oracle interface {
	GetQuote(ref string) (Quote, error)
}

var (
	// ErrNoFreshQuote indicates that no oracle produced a quote within the
	// configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrInvalidQuote indicates a quote with a non-positive price or a
	// confidence interval too wide to trust.
	ErrInvalidQuote = errors.New("oracle: invalid quote")
)

// Aggregator consults registered oracles in priority order until one returns
// a usable quote. Quotes that are stale, non-positive or too uncertain are
// skipped.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	oracles  map[string]Oracle
	maxAge   time.Duration
	// maxConfidenceBps bounds confidence/spot; zero disables the check.
	maxConfidenceBps uint64
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		oracles:  make(map[string]Oracle),
		maxAge:   maxAge,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetMaxConfidenceBps bounds the accepted confidence interval as basis points
// of the spot price. Zero disables the bound.
func (a *Aggregator) SetMaxConfidenceBps(bps uint64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxConfidenceBps = bps
	a.mu.Unlock()
}

// Register adds or replaces an oracle under the supplied identifier.
// Identifiers are stored in lowercase so lookups are consistent regardless of
// configuration casing.
func (a *Aggregator) Register(name string, oracle Oracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracles[trimmed] = oracle
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetQuote fetches a quote respecting the priority ordering. The returned
// quote is a defensive copy.
func (a *Aggregator) GetQuote(ref string) (Quote, error) {
	if a == nil {
		return Quote{}, fmt.Errorf("oracle aggregator not configured")
	}
	trimmedRef := strings.TrimSpace(ref)
	if trimmedRef == "" {
		return Quote{}, fmt.Errorf("oracle: reference required")
	}

	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	maxConfidenceBps := a.maxConfidenceBps
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}

	metrics := observability.Oracle()
	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		oracle := a.oracles[strings.ToLower(name)]
		a.mu.RUnlock()
		if oracle == nil {
			continue
		}
		quote, err := oracle.GetQuote(trimmedRef)
		if err != nil {
			metrics.RecordReject(name, "unavailable")
			lastErr = err
			continue
		}
		if err := validateQuote(quote, maxConfidenceBps); err != nil {
			metrics.RecordReject(name, "invalid")
			lastErr = err
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			metrics.RecordReject(name, "stale")
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		metrics.RecordQuote(result.Source, trimmedRef, time.Since(result.Timestamp))
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

func validateQuote(q Quote, maxConfidenceBps uint64) error {
	if q.Spot == nil || q.Spot.Sign() <= 0 {
		return ErrInvalidQuote
	}
	if q.Ema != nil && q.Ema.Sign() < 0 {
		return ErrInvalidQuote
	}
	if maxConfidenceBps > 0 && q.Confidence != nil {
		// confidence/spot > maxBps/10000 means the reporter is too unsure.
		bound := new(big.Rat).Mul(q.Spot, big.NewRat(int64(maxConfidenceBps), 10_000))
		if q.Confidence.Cmp(bound) > 0 {
			return ErrInvalidQuote
		}
	}
	return nil
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]Quote)}
}

// SetDecimal records spot and EMA rates supplied as decimal strings.
func (m *ManualOracle) SetDecimal(ref, spot, ema string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	spotRat, ok := new(big.Rat).SetString(strings.TrimSpace(spot))
	if !ok || spotRat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: invalid spot rate %q", spot)
	}
	emaRat := new(big.Rat).Set(spotRat)
	if trimmed := strings.TrimSpace(ema); trimmed != "" {
		emaRat, ok = new(big.Rat).SetString(trimmed)
		if !ok || emaRat.Sign() <= 0 {
			return fmt.Errorf("manual oracle: invalid ema rate %q", ema)
		}
	}
	m.Set(ref, Quote{Spot: spotRat, Ema: emaRat, Timestamp: ts, Source: "manual"})
	return nil
}

// Set stores the provided quote for the reference.
func (m *ManualOracle) Set(ref string, quote Quote) {
	if m == nil {
		return
	}
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return
	}
	m.mu.Lock()
	m.quotes[trimmed] = quote.Clone()
	m.mu.Unlock()
}

// GetQuote returns the stored quote for the reference.
func (m *ManualOracle) GetQuote(ref string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	quote, ok := m.quotes[strings.TrimSpace(ref)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, ErrNoFreshQuote
	}
	return quote.Clone(), nil
}

// PriceAdapter exposes an Oracle as the wad-scaled price source the lending
// engine consumes. A missing EMA falls back to the spot price.
type PriceAdapter struct {
	oracle Oracle
}

// NewPriceAdapter wraps the given oracle.
func NewPriceAdapter(oracle Oracle) *PriceAdapter {
	return &PriceAdapter{oracle: oracle}
}

// Price implements the engine's price source contract.
func (p *PriceAdapter) Price(ref string) (lending.Decimal, lending.Decimal, error) {
	if p == nil || p.oracle == nil {
		return lending.Decimal{}, lending.Decimal{}, fmt.Errorf("price adapter not configured")
	}
	quote, err := p.oracle.GetQuote(ref)
	if err != nil {
		return lending.Decimal{}, lending.Decimal{}, err
	}
	spot, err := ratToWad(quote.Spot)
	if err != nil {
		return lending.Decimal{}, lending.Decimal{}, err
	}
	ema := spot
	if quote.Ema != nil && quote.Ema.Sign() > 0 {
		if ema, err = ratToWad(quote.Ema); err != nil {
			return lending.Decimal{}, lending.Decimal{}, err
		}
	}
	return spot, ema, nil
}

var wadInt = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ratToWad(r *big.Rat) (lending.Decimal, error) {
	if r == nil || r.Sign() <= 0 {
		return lending.Decimal{}, ErrInvalidQuote
	}
	scaled := new(big.Int).Mul(r.Num(), wadInt)
	scaled.Quo(scaled, r.Denom())
	return lending.DecimalFromBig(scaled)
}
