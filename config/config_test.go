package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"landsale/crypto"
)

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address().String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "landsale.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	admin, merchant, charity := testAddress(t), testAddress(t), testAddress(t)
	path := writeConfig(t, fmt.Sprintf(`
CharityRatePermille = 25

[Roles]
Administrator = %q
Merchant = %q
Charity = %q

[Oracle]
Mode = "manual"
ManualRate = "37000000000000"
`, admin, merchant, charity))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8645" {
		t.Fatalf("default listen address not applied: %q", cfg.ListenAddress)
	}
	if cfg.Oracle.MaxQuoteAgeSeconds != 120 {
		t.Fatalf("default quote age not applied: %d", cfg.Oracle.MaxQuoteAgeSeconds)
	}
	if len(cfg.Packs) != 1 || cfg.Packs[0].ID != 1 || cfg.Packs[0].PriceCents != 15000 {
		t.Fatalf("default catalog not applied: %+v", cfg.Packs)
	}
	a, m, ch, err := cfg.DecodedRoles()
	if err != nil {
		t.Fatalf("decoded roles: %v", err)
	}
	if a.String() != admin || m.String() != merchant || ch.String() != charity {
		t.Fatalf("roles did not round trip")
	}
}

func TestLoadRejectsMissingRoles(t *testing.T) {
	path := writeConfig(t, `
[Oracle]
Mode = "manual"
ManualRate = "1"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing roles")
	}
}

func TestLoadRejectsBadOracle(t *testing.T) {
	admin, merchant, charity := testAddress(t), testAddress(t), testAddress(t)
	roles := fmt.Sprintf(`
[Roles]
Administrator = %q
Merchant = %q
Charity = %q
`, admin, merchant, charity)

	path := writeConfig(t, roles+`
[Oracle]
Mode = "feed"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for feed oracle without endpoint")
	}

	path = writeConfig(t, roles+`
[Oracle]
Mode = "chainlink"
Endpoint = "https://example.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown oracle mode")
	}
}

func TestLoadRejectsBadCatalog(t *testing.T) {
	admin, merchant, charity := testAddress(t), testAddress(t), testAddress(t)
	path := writeConfig(t, fmt.Sprintf(`
[Roles]
Administrator = %q
Merchant = %q
Charity = %q

[Oracle]
Mode = "manual"
ManualRate = "1"

[[Packs]]
ID = 1
PriceCents = 15000

[[Packs]]
ID = 1
PriceCents = 50000
`, admin, merchant, charity))
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for duplicate pack id")
	}
}

func TestLoadRejectsExcessCharityRate(t *testing.T) {
	admin, merchant, charity := testAddress(t), testAddress(t), testAddress(t)
	path := writeConfig(t, fmt.Sprintf(`
CharityRatePermille = 1001

[Roles]
Administrator = %q
Merchant = %q
Charity = %q

[Oracle]
Mode = "manual"
ManualRate = "1"
`, admin, merchant, charity))
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for charity rate above 1000")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landsale.toml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("write default: %v", err)
	}
	// The starter file is intentionally incomplete: roles must be filled in.
	if _, err := Load(path); err == nil {
		t.Fatalf("expected starter config to fail validation")
	}
}
