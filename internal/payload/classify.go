package payload

import (
	"regexp"
	"strings"

	"otabridge/internal/models"
)

var (
	// 13-19 digit runs with optional separators cover the common card formats
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)
)

var paymentKeys = []string{"payment_method", "card_number", "cvv", "card_holder", "expiry_date"}
var piiKeys = []string{"guest_email", "email", "phone", "passport", "national_id", "government_id", "date_of_birth"}
var internalKeys = []string{"rate", "price", "amount", "availability", "inventory", "stop_sell", "allotment"}

// Classify applies the data-level decision table to headers and body.
// First match wins: payment → restricted, PII → confidential,
// rate/inventory → internal, anything else → public.
func Classify(headers map[string]string, body []byte) models.Classification {
	text := strings.ToLower(string(body))
	for k, v := range headers {
		text += " " + strings.ToLower(k) + " " + strings.ToLower(v)
	}

	if containsAnyKey(text, paymentKeys) || cardPattern.MatchString(string(body)) {
		return models.Classification{
			ContainsPaymentData: true,
			ContainsPII:         true,
			DataLevel:           models.DataLevelRestricted,
		}
	}

	if containsAnyKey(text, piiKeys) || emailPattern.MatchString(string(body)) || hasPhone(string(body)) {
		return models.Classification{
			ContainsPII: true,
			DataLevel:   models.DataLevelConfidential,
		}
	}

	if containsAnyKey(text, internalKeys) {
		return models.Classification{DataLevel: models.DataLevelInternal}
	}

	return models.Classification{DataLevel: models.DataLevelPublic}
}

func containsAnyKey(text string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(text, `"`+k+`"`) || strings.Contains(text, k+"=") {
			return true
		}
	}
	return false
}

// hasPhone requires a phone-looking run that is not just any number:
// it must start with + or contain separators, or a regex hit would flag
// every rate value as PII.
func hasPhone(body string) bool {
	for _, m := range phonePattern.FindAllString(body, -1) {
		if strings.HasPrefix(m, "+") || strings.ContainsAny(m, "-() ") {
			return true
		}
	}
	return false
}

// RetentionPolicyFor maps a classification to its retention policy name
func RetentionPolicyFor(c models.Classification) string {
	return string(c.DataLevel)
}

// PriorityFor derives business priority from the operation
func PriorityFor(operation string) models.Priority {
	switch operation {
	case "cancellation_request", "booking_cancelled":
		return models.PriorityCritical
	case "booking_modification", "dates_change", "rate_change", "room_change", "amendment":
		return models.PriorityHigh
	case "rate_update", "availability_update", "stop_sell":
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}
