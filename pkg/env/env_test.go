package env

import "testing"

func TestGetFallsBack(t *testing.T) {
	t.Setenv("STOREFRONT_TEST_VALUE", "")
	if got := Get("STOREFRONT_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("STOREFRONT_TEST_VALUE", "set")
	if got := Get("STOREFRONT_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("STOREFRONT_TEST_BOOL", "true")
	if !GetBool("STOREFRONT_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("STOREFRONT_TEST_BOOL", "nope")
	if GetBool("STOREFRONT_TEST_BOOL", false) {
		t.Fatal("malformed value should fall back")
	}
}
