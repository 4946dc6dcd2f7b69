package instance

import "testing"

func TestGetIDPrefersExplicitID(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "web-2")
	t.Setenv("DYNO", "web.1")
	if got := GetID(); got != "web-2" {
		t.Fatalf("expected explicit id, got %q", got)
	}
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "")
	t.Setenv("DYNO", "web.1")
	if got := GetID(); got != "web.1" {
		t.Fatalf("expected dyno name, got %q", got)
	}
}

func TestGetIDNeverEmpty(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "")
	t.Setenv("DYNO", "")
	if GetID() == "" {
		t.Fatalf("expected a non-empty id")
	}
}
