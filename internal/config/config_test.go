package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "bogus")

	cfg := Load()
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %s", cfg.Address())
	}
	if cfg.CatalogCacheTTLSeconds != 60 {
		t.Fatalf("catalog ttl = %d", cfg.CatalogCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl = %d", cfg.AccessTokenTTLMinutes)
	}
}
