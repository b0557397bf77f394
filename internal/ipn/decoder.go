// Package ipn decodes flat key/value payment-gateway notifications (IPN-style
// webhook bodies) into domain records. The decoder is deliberately forgiving:
// unparseable numeric fields decode to absent, and it is the reconciliation
// engine that turns absent/invalid amounts into a transaction status.
package ipn

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/avolkov/ticketline/internal/domain"
)

// Top-level gateway field names.
const (
	fieldTxnID        = "txn_id"
	fieldParentTxnID  = "parent_txn_id"
	fieldStatus       = "payment_status"
	fieldTxnType      = "txn_type"
	fieldCustom       = "custom" // correlation token chosen at checkout
	fieldGross        = "mc_gross"
	fieldCurrency     = "mc_currency"
	fieldPayerEmail   = "payer_email"
	fieldFirstName    = "first_name"
	fieldLastName     = "last_name"
	fieldNumCartItems = "num_cart_items"
)

// itemField describes one logical per-line-item field and how its key is
// suffixed per ordinal on the wire (item_number1, mc_gross_2, ...). Fields
// whose bare form doubles as a top-level field (mc_gross is the notification
// total) must never fall back to it for ordinal 1.
type itemField struct {
	format   string // format with one %d verb for the ordinal
	bare     string // unsuffixed form
	bareOne  bool   // ordinal 1 may appear unsuffixed
}

var itemFields = struct {
	name, ref, quantity, gross, shipping, handling, tax itemField
}{
	name:     itemField{format: "item_name%d", bare: "item_name", bareOne: true},
	ref:      itemField{format: "item_number%d", bare: "item_number", bareOne: true},
	quantity: itemField{format: "quantity%d", bare: "quantity", bareOne: true},
	gross:    itemField{format: "mc_gross_%d", bare: "mc_gross"},
	shipping: itemField{format: "mc_shipping%d", bare: "mc_shipping"},
	handling: itemField{format: "mc_handling%d", bare: "mc_handling"},
	tax:      itemField{format: "tax%d", bare: "tax"},
}

var allItemFields = []itemField{
	itemFields.name, itemFields.ref, itemFields.quantity, itemFields.gross,
	itemFields.shipping, itemFields.handling, itemFields.tax,
}

// Decode parses a gateway webhook body into a Notification plus its ordered
// line-item breakdowns. The only hard failure is a missing transaction id;
// everything else degrades to absent fields.
func Decode(values url.Values) (*domain.Notification, error) {
	txnID := values.Get(fieldTxnID)
	if txnID == "" {
		return nil, fmt.Errorf("Decode: missing %s", fieldTxnID)
	}

	n := &domain.Notification{
		GatewayTxnID:       txnID,
		ParentGatewayTxnID: values.Get(fieldParentTxnID),
		PaymentStatus:      values.Get(fieldStatus),
		NotificationType:   normalizeType(values.Get(fieldTxnType)),
		CorrelationToken:   values.Get(fieldCustom),
		GrossAmount:        parseFloat(values.Get(fieldGross)),
		CurrencyCode:       values.Get(fieldCurrency),
		PayerEmail:         values.Get(fieldPayerEmail),
		PayerFirstName:     values.Get(fieldFirstName),
		PayerLastName:      values.Get(fieldLastName),
	}

	bag := flatten(values)

	if count, ok := cartItemCount(values); ok {
		n.Items = make([]domain.ItemPayment, 0, count)
		for ordinal := 1; ordinal <= count; ordinal++ {
			n.Items = append(n.Items, decodeItem(values, ordinal))
			for _, f := range allItemFields {
				delete(bag, fmt.Sprintf(f.format, ordinal))
			}
		}
	} else {
		// No cart split: the whole payload is one line item read from the
		// unsuffixed fields.
		n.Items = []domain.ItemPayment{{
			ItemName: values.Get(itemFields.name.bare),
			ItemRef:  values.Get(itemFields.ref.bare),
			Quantity: parseQuantity(values.Get(itemFields.quantity.bare)),
			Gross:    parseFloat(values.Get(itemFields.gross.bare)),
			Shipping: parseFloat(values.Get(itemFields.shipping.bare)),
			Handling: parseFloat(values.Get(itemFields.handling.bare)),
			Tax:      parseFloat(values.Get(itemFields.tax.bare)),
		}}
	}

	n.Fields = bag
	return n, nil
}

// decodeItem extracts one line item by ordinal. Ordinal 1 may be carried
// either suffixed or bare depending on the gateway's convention.
func decodeItem(values url.Values, ordinal int) domain.ItemPayment {
	return domain.ItemPayment{
		ItemName: itemValue(values, itemFields.name, ordinal),
		ItemRef:  itemValue(values, itemFields.ref, ordinal),
		Quantity: parseQuantity(itemValue(values, itemFields.quantity, ordinal)),
		Gross:    parseFloat(itemValue(values, itemFields.gross, ordinal)),
		Shipping: parseFloat(itemValue(values, itemFields.shipping, ordinal)),
		Handling: parseFloat(itemValue(values, itemFields.handling, ordinal)),
		Tax:      parseFloat(itemValue(values, itemFields.tax, ordinal)),
	}
}

func itemValue(values url.Values, f itemField, ordinal int) string {
	if v := values.Get(fmt.Sprintf(f.format, ordinal)); v != "" {
		return v
	}
	if ordinal == 1 && f.bareOne {
		return values.Get(f.bare)
	}
	return ""
}

func cartItemCount(values url.Values) (int, bool) {
	raw := values.Get(fieldNumCartItems)
	if raw == "" {
		return 0, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || count < 1 {
		return 0, false
	}
	return count, true
}

// flatten keeps the first value per key, matching how the gateway sends its
// form posts.
func flatten(values url.Values) map[string]string {
	bag := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			bag[key] = vals[0]
		}
	}
	return bag
}

func parseFloat(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseQuantity(raw string) int {
	q, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || q < 0 {
		return 0
	}
	return q
}

// normalizeType maps the gateway's txn_type vocabulary onto ours. Unknown
// types pass through verbatim so they stay visible in the ledger.
func normalizeType(raw string) string {
	switch raw {
	case "cart", "":
		return domain.NotificationTypeCart
	case "subscr_payment":
		return domain.NotificationTypeSubscriptionPay
	case "subscr_signup":
		return domain.NotificationTypeSubscriptionSignup
	case "subscr_cancel":
		return domain.NotificationTypeSubscriptionCancel
	case "subscr_eot":
		return domain.NotificationTypeSubscriptionEnd
	}
	return raw
}
