package presale

import (
	"errors"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestManualOracleRoundTrip(t *testing.T) {
	oracle := NewManualOracle()
	if _, err := oracle.CentRate(); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("expected ErrNoQuote before set, got %v", err)
	}
	ts := time.Unix(1_700_000_000, 0)
	if err := oracle.Set(big.NewInt(42), ts); err != nil {
		t.Fatalf("set: %v", err)
	}
	quote, err := oracle.CentRate()
	if err != nil {
		t.Fatalf("cent rate: %v", err)
	}
	if quote.Rate.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected 42, got %s", quote.Rate)
	}
	if !quote.Timestamp.Equal(ts) {
		t.Fatalf("timestamp not preserved")
	}
	if quote.Source != "manual" {
		t.Fatalf("unexpected source %q", quote.Source)
	}

	// Returned quote is a defensive copy.
	quote.Rate.SetInt64(7)
	again, err := oracle.CentRate()
	if err != nil {
		t.Fatalf("cent rate: %v", err)
	}
	if again.Rate.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("stored quote mutated through returned copy")
	}
}

func TestManualOracleRejectsBadRates(t *testing.T) {
	oracle := NewManualOracle()
	if err := oracle.Set(nil, time.Now()); err == nil {
		t.Fatalf("expected error for nil rate")
	}
	if err := oracle.Set(big.NewInt(0), time.Now()); err == nil {
		t.Fatalf("expected error for zero rate")
	}
	if err := oracle.SetDecimal("not-a-number", time.Now()); err == nil {
		t.Fatalf("expected error for invalid decimal")
	}
	if err := oracle.SetDecimal("12345", time.Now()); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
}

type stubDoer struct {
	status int
	body   string
	err    error
	req    *http.Request
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

func TestFeedOracleParsesQuote(t *testing.T) {
	doer := &stubDoer{status: http.StatusOK, body: `{"rate":"37000000000000","timestamp":1700000000}`}
	oracle := NewFeedOracle(doer, "https://feed.example/rate", "secret", "bnb")
	quote, err := oracle.CentRate()
	if err != nil {
		t.Fatalf("cent rate: %v", err)
	}
	if quote.Rate.Cmp(big.NewInt(37_000_000_000_000)) != 0 {
		t.Fatalf("unexpected rate %s", quote.Rate)
	}
	if quote.Timestamp.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %v", quote.Timestamp)
	}
	if doer.req.Header.Get("x-api-key") != "secret" {
		t.Fatalf("api key header not set")
	}
	query := doer.req.URL.Query()
	if query.Get("unit") != "usd-cent" {
		t.Fatalf("unit parameter missing")
	}
	if query.Get("symbol") != "BNB" {
		t.Fatalf("symbol not normalised: %q", query.Get("symbol"))
	}
}

func TestFeedOracleRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name string
		doer *stubDoer
	}{
		{"transport error", &stubDoer{err: errors.New("boom")}},
		{"bad status", &stubDoer{status: http.StatusBadGateway, body: "oops"}},
		{"empty rate", &stubDoer{status: http.StatusOK, body: `{"rate":""}`}},
		{"negative rate", &stubDoer{status: http.StatusOK, body: `{"rate":"-5"}`}},
		{"not json", &stubDoer{status: http.StatusOK, body: "<html>"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			oracle := NewFeedOracle(tc.doer, "https://feed.example/rate", "", "")
			if _, err := oracle.CentRate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFeedOracleRequiresEndpoint(t *testing.T) {
	oracle := NewFeedOracle(nil, "  ", "", "")
	if _, err := oracle.CentRate(); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
