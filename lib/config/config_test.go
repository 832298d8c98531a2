// config_test.go tests config files
package config

import (
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. audittrail/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Fatalf("Error reading config file:%e\n", err)
	}
	// lets check the port
	if conf.Port != "3030" {
		t.Errorf("config port is not the expected %s", conf.Port)
	}
	// and the ledger
	if conf.Ledger.Type != LedgerSolana || conf.Ledger.Node != "http://localhost:8899" {
		t.Errorf("ledger does not match the expected %+v", conf.Ledger)
	}

	if conf.RateLimit != 2 || conf.RateBurst != 5 || conf.Poll != 10 {
		t.Errorf("limits do not match the expected %+v", conf)
	}
}

// TestConfigEnv checks OS ENV variables override the config file.
func TestConfigEnv(t *testing.T) {
	t.Setenv("AUDIT_PORT", "4040")
	t.Setenv("AUDIT_POLL", "3")
	t.Setenv("AUDIT_RATELIMIT", "0.5")
	t.Setenv("AUDIT_SECRET", "base58secret")
	t.Setenv("AUDIT_LEDGER", `{"type":"memory","program":"11111111111111111111111111111111"}`)

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Fatalf("Error reading config:%e\n", err)
	}

	if conf.Port != "4040" || conf.Poll != 3 || conf.RateLimit != 0.5 || conf.Secret != "base58secret" {
		t.Errorf("ENV overrides not applied %+v", conf)
	}

	if conf.Ledger.Type != LedgerMemory || conf.Ledger.Node != "" {
		t.Errorf("ledger does not match the expected %+v", conf.Ledger)
	}

	t.Setenv("AUDIT_TIMEOUT", "ten")

	if _, err = ExtractConfiguration(""); err == nil {
		t.Errorf("expected error for invalid AUDIT_TIMEOUT")
	}
}

// TestConfigDefaults checks the defaults when no file is given.
func TestConfigDefaults(t *testing.T) {
	conf, err := ExtractConfiguration("")
	if err != nil {
		t.Fatalf("Error reading defaults:%e\n", err)
	}

	if conf.DBType != DBTypeDefault || conf.Ledger != LedgerDefault || conf.Timeout != TimeoutDefault {
		t.Errorf("defaults not applied %+v", conf)
	}

	if _, err = ExtractConfiguration("missing.json"); err == nil {
		t.Errorf("expected error for missing file")
	}
}
