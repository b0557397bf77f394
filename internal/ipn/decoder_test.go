package ipn

import (
	"net/url"
	"strings"
	"testing"
)

func TestDecode_CartSplit(t *testing.T) {
	values := url.Values{}
	values.Set("txn_id", "5TY05013RG002845M")
	values.Set("payment_status", "Completed")
	values.Set("txn_type", "cart")
	values.Set("mc_gross", "46.00")
	values.Set("mc_currency", "EUR")
	values.Set("num_cart_items", "2")
	values.Set("item_name1", "Standard Ticket")
	values.Set("item_number1", "3f0c32c5-6051-4f48-b539-1f9c3f2c1a11")
	values.Set("quantity1", "2")
	values.Set("mc_gross_1", "30.00")
	values.Set("mc_shipping1", "0.00")
	values.Set("item_name2", "Backstage Addon")
	values.Set("item_number2", "7a1f98aa-2a5b-4a4d-9a01-54f2bb8f2c22")
	values.Set("quantity2", "1")
	values.Set("mc_gross_2", "16.00")
	values.Set("tax2", "1.00")

	n, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(n.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(n.Items))
	}

	first := n.Items[0]
	if first.ItemRef != "3f0c32c5-6051-4f48-b539-1f9c3f2c1a11" || first.Quantity != 2 {
		t.Errorf("first item decoded wrong: %+v", first)
	}
	if first.Gross == nil || *first.Gross != 30.00 {
		t.Errorf("first item gross = %v, want 30.00", first.Gross)
	}

	second := n.Items[1]
	if second.ItemName != "Backstage Addon" || second.Quantity != 1 {
		t.Errorf("second item decoded wrong: %+v", second)
	}
	if second.Gross == nil || *second.Gross != 16.00 {
		t.Errorf("second item gross = %v, want 16.00", second.Gross)
	}
	if second.Tax == nil || *second.Tax != 1.00 {
		t.Errorf("second item tax = %v, want 1.00", second.Tax)
	}

	// No ordinal-suffixed keys may leak into the flat field bag.
	for key := range n.Fields {
		for _, prefix := range []string{"item_name", "item_number", "quantity", "mc_gross_", "mc_shipping", "mc_handling", "tax"} {
			if strings.HasPrefix(key, prefix) && key != prefix {
				t.Errorf("suffixed key %q leaked into field bag", key)
			}
		}
	}
	if n.GrossAmount == nil || *n.GrossAmount != 46.00 {
		t.Errorf("notification gross = %v, want 46.00", n.GrossAmount)
	}
}

func TestDecode_SingleItem(t *testing.T) {
	values := url.Values{}
	values.Set("txn_id", "61E67681CH3238416")
	values.Set("payment_status", "Completed")
	values.Set("item_name", "Day Pass")
	values.Set("item_number", "9d3b1d7e-0f14-45ab-ae8e-6a2b1c6a9f33")
	values.Set("quantity", "1")
	values.Set("mc_gross", "12.50")
	values.Set("mc_currency", "USD")

	n, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if len(n.Items) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(n.Items))
	}
	item := n.Items[0]
	if item.ItemRef != "9d3b1d7e-0f14-45ab-ae8e-6a2b1c6a9f33" {
		t.Errorf("item ref = %q", item.ItemRef)
	}
	if item.Gross == nil || *item.Gross != 12.50 {
		t.Errorf("item gross = %v, want 12.50", item.Gross)
	}
}

func TestDecode_BareFirstOrdinal(t *testing.T) {
	// Some gateway variants send the first cart item's name/ref unsuffixed.
	values := url.Values{}
	values.Set("txn_id", "8XW10429NU8823710")
	values.Set("payment_status", "Pending")
	values.Set("num_cart_items", "1")
	values.Set("item_name", "Early Bird")
	values.Set("item_number", "c1d2e3f4-aaaa-bbbb-cccc-ddddeeeeffff")
	values.Set("quantity", "3")
	values.Set("mc_gross_1", "75.00")

	n, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	item := n.Items[0]
	if item.ItemName != "Early Bird" || item.ItemRef != "c1d2e3f4-aaaa-bbbb-cccc-ddddeeeeffff" || item.Quantity != 3 {
		t.Errorf("bare-ordinal item decoded wrong: %+v", item)
	}
	if item.Gross == nil || *item.Gross != 75.00 {
		t.Errorf("item gross = %v, want 75.00", item.Gross)
	}
}

func TestDecode_UnparseableNumbersAreAbsent(t *testing.T) {
	values := url.Values{}
	values.Set("txn_id", "2GM47761PD6291927")
	values.Set("payment_status", "Completed")
	values.Set("mc_gross", "not-a-number")
	values.Set("item_number", "junk-ref")
	values.Set("quantity", "x")

	n, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n.GrossAmount != nil {
		t.Errorf("gross amount = %v, want nil for unparseable input", n.GrossAmount)
	}
	if n.Items[0].Gross != nil {
		t.Errorf("item gross = %v, want nil", n.Items[0].Gross)
	}
	if n.Items[0].Quantity != 0 {
		t.Errorf("quantity = %d, want 0", n.Items[0].Quantity)
	}
}

func TestDecode_MissingTxnID(t *testing.T) {
	values := url.Values{}
	values.Set("payment_status", "Completed")
	if _, err := Decode(values); err == nil {
		t.Fatal("expected error for missing txn_id")
	}
}

func TestDecode_RefundFields(t *testing.T) {
	values := url.Values{}
	values.Set("txn_id", "3R288912BV9511020")
	values.Set("parent_txn_id", "5TY05013RG002845M")
	values.Set("payment_status", "Refunded")
	values.Set("mc_gross", "-30.00")
	values.Set("custom", "tok-8842")

	n, err := Decode(values)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n.ParentGatewayTxnID != "5TY05013RG002845M" {
		t.Errorf("parent txn id = %q", n.ParentGatewayTxnID)
	}
	if n.GrossAmount == nil || *n.GrossAmount != -30.00 {
		t.Errorf("gross = %v, want -30.00", n.GrossAmount)
	}
	if n.CorrelationToken != "tok-8842" {
		t.Errorf("correlation token = %q", n.CorrelationToken)
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cart", "cart"},
		{"", "cart"},
		{"subscr_payment", "subscription-payment"},
		{"subscr_signup", "subscription-signup"},
		{"subscr_cancel", "subscription-cancel"},
		{"subscr_eot", "subscription-end"},
		{"web_accept", "web_accept"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeType(tt.input); got != tt.want {
				t.Errorf("normalizeType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
