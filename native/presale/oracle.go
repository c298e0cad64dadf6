package presale

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures the native-currency amount equivalent to one USD cent
// along with the timestamp reported by the upstream feed and its identifier.
type PriceQuote struct {
	Rate      *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Int).Set(q.Rate)
	}
	return clone
}

// RateOracle resolves the current native-units-per-USD-cent conversion rate.
// The engine queries it exactly once per purchase.
type RateOracle interface {
	CentRate() (PriceQuote, error)
}

// ErrNoQuote indicates the oracle has no rate available.
var ErrNoQuote = errors.New("presale: no oracle quote available")

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu    sync.RWMutex
	quote PriceQuote
	set   bool
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{}
}

// Set stores the supplied rate for subsequent CentRate calls.
func (m *ManualOracle) Set(rate *big.Int, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	m.mu.Lock()
	m.quote = PriceQuote{Rate: new(big.Int).Set(rate), Timestamp: ts, Source: "manual"}
	m.set = true
	m.mu.Unlock()
	return nil
}

// SetDecimal parses and stores a decimal rate string.
func (m *ManualOracle) SetDecimal(rate string, ts time.Time) error {
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: rate required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return fmt.Errorf("manual oracle: invalid rate %q", rate)
	}
	return m.Set(value, ts)
}

// CentRate returns the stored quote.
func (m *ManualOracle) CentRate() (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return PriceQuote{}, ErrNoQuote
	}
	return m.quote.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedOracle fetches the cent rate from an HTTP JSON price feed. The feed is
// expected to answer GET requests with {"rate":"<integer>","timestamp":<unix>}.
type FeedOracle struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	symbol   string
}

// NewFeedOracle constructs a feed oracle adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewFeedOracle(client HTTPDoer, endpoint, apiKey, symbol string) *FeedOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedOracle{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
	}
}

// CentRate queries the configured endpoint for the current conversion rate.
func (o *FeedOracle) CentRate() (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, fmt.Errorf("feed oracle not configured")
	}
	if o.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("feed oracle: endpoint required")
	}
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("unit", "usd-cent")
	if o.symbol != "" {
		values.Set("symbol", o.symbol)
	}
	req.URL.RawQuery = values.Encode()
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("feed oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("feed oracle: decode: %w", err)
	}
	rate := strings.TrimSpace(payload.Rate)
	if rate == "" {
		return PriceQuote{}, fmt.Errorf("feed oracle: empty rate")
	}
	value, ok := new(big.Int).SetString(rate, 10)
	if !ok || value.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("feed oracle: invalid rate %q", payload.Rate)
	}
	ts := time.Now().UTC()
	if payload.Timestamp > 0 {
		ts = time.Unix(payload.Timestamp, 0).UTC()
	}
	return PriceQuote{Rate: value, Timestamp: ts, Source: "feed"}, nil
}
