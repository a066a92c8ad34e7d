package toolcheck

import (
	"regexp"
	"strings"
)

// The τ²-bench environments use fixed entity ID grammars. Models frequently
// emit near-miss variants; the rewrite tables below repair the common ones
// before the post-normalization format check.

var (
	bareDigitsRE = regexp.MustCompile(`^\d+$`)
	customerIDRE = regexp.MustCompile(`^C\d+$`)
	lineIDRE     = regexp.MustCompile(`^L\d+$`)
	billIDRE     = regexp.MustCompile(`^B\d+$`)
)

// normalizeRetail rewrites a retail argument value into canonical form.
// Non-string values pass through untouched.
func normalizeRetail(param string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	switch param {
	case "order_id":
		if !strings.HasPrefix(s, "#") {
			return "#" + s
		}
	case "payment_method_id":
		return normalizePaymentMethod(s)
	}
	return value
}

func normalizePaymentMethod(s string) string {
	switch {
	case strings.HasPrefix(s, "paypal_"),
		strings.HasPrefix(s, "credit_card_"),
		strings.HasPrefix(s, "gift_card_"):
		return s
	case strings.HasPrefix(s, "cc_"), strings.HasPrefix(s, "card_"), strings.HasPrefix(s, "credit_"):
		return "credit_card_" + afterFirstUnderscore(s)
	case strings.HasPrefix(s, "giftcard_"), strings.HasPrefix(s, "gc_"):
		return "gift_card_" + afterFirstUnderscore(s)
	case strings.HasPrefix(s, "gift_") && s != "gift_card":
		return "gift_card_" + afterFirstUnderscore(s)
	case strings.HasPrefix(s, "visa_"), strings.HasPrefix(s, "creditcard_"):
		return "credit_card_" + afterFirstUnderscore(s)
	}
	return s
}

func afterFirstUnderscore(s string) string {
	if i := strings.IndexByte(s, '_'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// checkRetail validates a retail argument value after normalization.
func checkRetail(param string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return true
	}
	switch param {
	case "order_id":
		return strings.HasPrefix(s, "#")
	case "email":
		return strings.Contains(s, "@")
	case "payment_method_id":
		return strings.HasPrefix(s, "gift_card_") ||
			strings.HasPrefix(s, "credit_card_") ||
			strings.HasPrefix(s, "paypal_")
	}
	return true
}

// normalizeTelecom prefixes bare-digit entity IDs with their letter.
func normalizeTelecom(param string, value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if !bareDigitsRE.MatchString(s) {
		return value
	}
	switch param {
	case "customer_id":
		return "C" + s
	case "line_id":
		return "L" + s
	case "bill_id":
		return "B" + s
	}
	return value
}

// checkTelecom validates a telecom argument value after normalization.
func checkTelecom(param string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return true
	}
	switch param {
	case "customer_id":
		return customerIDRE.MatchString(s)
	case "line_id":
		return lineIDRE.MatchString(s)
	case "bill_id":
		return billIDRE.MatchString(s)
	}
	return true
}
