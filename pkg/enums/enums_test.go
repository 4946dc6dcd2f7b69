package enums

import "testing"

func TestParseCollection(t *testing.T) {
	got, err := ParseCollection("Money")
	if err != nil || got != CollectionMoney {
		t.Fatalf("expected Money, got %q err=%v", got, err)
	}
	if _, err := ParseCollection("money"); err == nil {
		t.Fatal("collections are case sensitive")
	}
	if Collection("Outerwear").IsValid() {
		t.Fatal("unexpected valid collection")
	}
}

func TestSizesCanonicalOrder(t *testing.T) {
	sizes := Sizes()
	want := []Size{SizeXS, SizeS, SizeM, SizeL, SizeXL, SizeXXL}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d sizes, got %d", len(want), len(sizes))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("size %d: expected %s got %s", i, want[i], sizes[i])
		}
	}
	sizes[0] = "XXXL"
	if Sizes()[0] != SizeXS {
		t.Fatal("Sizes must return a copy")
	}
	if _, err := ParseSize("XXXL"); err == nil {
		t.Fatal("expected invalid size error")
	}
}

func TestStockStatusPurchasable(t *testing.T) {
	if !StockStatusLowStock.Purchasable() || !StockStatusInStock.Purchasable() {
		t.Fatal("in/low stock should be purchasable")
	}
	if StockStatusSoldOut.Purchasable() {
		t.Fatal("sold out should not be purchasable")
	}
	if _, err := ParseStockStatus("backorder"); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestParseCurrency(t *testing.T) {
	if c, err := ParseCurrency(""); err != nil || c != CurrencyCAD {
		t.Fatalf("empty currency should default to CAD, got %q err=%v", c, err)
	}
	if c, err := ParseCurrency(" usd "); err != nil || c != CurrencyUSD {
		t.Fatalf("expected USD, got %q err=%v", c, err)
	}
	if _, err := ParseCurrency("BTC"); err == nil {
		t.Fatal("expected invalid currency")
	}
}
