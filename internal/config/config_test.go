package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.JWKSURL != "https://auth.example.com/.well-known/jwks.json" {
		t.Errorf("Identity.JWKSURL = %q", cfg.Identity.JWKSURL)
	}
	if cfg.Identity.Audience != "orderdesk-bff" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if cfg.Identity.SessionCookie != "crm_session" {
		t.Errorf("Identity.SessionCookie = %q, want crm_session", cfg.Identity.SessionCookie)
	}

	crm := cfg.CRM()
	if crm.BaseURL != "https://crm.internal" {
		t.Errorf("crm.BaseURL = %q", crm.BaseURL)
	}
	if crm.Timeout != 10*time.Second {
		t.Errorf("crm.Timeout = %v, want 10s", crm.Timeout)
	}
	if crm.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("crm.CircuitBreaker.FailureThreshold = %d, want 5", crm.CircuitBreaker.FailureThreshold)
	}
	if cfg.Catalog.Cache.TTL != 2*time.Minute {
		t.Errorf("Catalog.Cache.TTL = %v, want 2m", cfg.Catalog.Cache.TTL)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Catalog.Cache.TTL != 5*time.Minute {
		t.Errorf("default Catalog.Cache.TTL = %v, want 5m", cfg.Catalog.Cache.TTL)
	}
	if cfg.Tracking.NextStatusCount != 3 {
		t.Errorf("default Tracking.NextStatusCount = %d, want 3", cfg.Tracking.NextStatusCount)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if !cfg.CRM().Retry.IdempotentOnly {
		t.Error("default crm.Retry.IdempotentOnly = false, want true")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORDERDESK_SERVER_PORT", "3000")
	t.Setenv("ORDERDESK_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("ORDERDESK_IDENTITY_JWKS_URL", "https://env-issuer.com/.well-known/jwks.json")
	t.Setenv("ORDERDESK_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("ORDERDESK_CRM_BASE_URL", "https://crm-env.internal")
	t.Setenv("ORDERDESK_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.CRM().BaseURL != "https://crm-env.internal" {
		t.Errorf("crm.BaseURL = %q, want env override", cfg.CRM().BaseURL)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "orderdesk-bff"
	crm := cfg.Services[ServiceCRM]
	crm.BaseURL = "https://crm.internal"
	cfg.Services[ServiceCRM] = crm
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_missing_crm(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "orderdesk-bff"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() without services.crm.base_url should return error")
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	t.Setenv("ORDERDESK_SERVER_PORT", "5555")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
}
