package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"otabridge/internal/models"
)

func TestClassifyPaymentData(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"payment key in body", `{"payment_method":"visa","total":120.50}`},
		{"card number in body", `{"note":"card 4111 1111 1111 1111 on file"}`},
		{"cvv key", `{"cvv":"123"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(nil, []byte(tc.body))
			assert.Equal(t, models.DataLevelRestricted, c.DataLevel)
			assert.True(t, c.ContainsPaymentData)
			assert.True(t, c.ContainsPII)
		})
	}
}

func TestClassifyPII(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"guest email key", `{"guest_email":"j.doe@example.com"}`},
		{"bare email match", `{"contact":"someone@hotel.kz"}`},
		{"phone with separators", `{"contact":"+7 701 123-45-67"}`},
		{"passport key", `{"passport":"N1234567"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify(nil, []byte(tc.body))
			assert.Equal(t, models.DataLevelConfidential, c.DataLevel)
			assert.True(t, c.ContainsPII)
			assert.False(t, c.ContainsPaymentData)
		})
	}
}

func TestClassifyInternal(t *testing.T) {
	c := Classify(nil, []byte(`{"rate":12000,"availability":4}`))
	assert.Equal(t, models.DataLevelInternal, c.DataLevel)
	assert.False(t, c.ContainsPII)
}

func TestClassifyPublic(t *testing.T) {
	c := Classify(nil, []byte(`{"status":"ok","count":3}`))
	assert.Equal(t, models.DataLevelPublic, c.DataLevel)
}

func TestClassifyHeadersCount(t *testing.T) {
	headers := map[string]string{"X-Guest": `"guest_email"=set`}
	c := Classify(headers, []byte(`{}`))
	assert.Equal(t, models.DataLevelConfidential, c.DataLevel)
}

func TestClassifyPlainNumberIsNotPhone(t *testing.T) {
	// a bare numeric rate must not trip the phone heuristic
	c := Classify(nil, []byte(`{"total":1234567890}`))
	assert.Equal(t, models.DataLevelPublic, c.DataLevel)
}

func TestRetentionPolicyFor(t *testing.T) {
	assert.Equal(t, "restricted", RetentionPolicyFor(models.Classification{DataLevel: models.DataLevelRestricted}))
	assert.Equal(t, "public", RetentionPolicyFor(models.Classification{DataLevel: models.DataLevelPublic}))
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, models.PriorityCritical, PriorityFor("cancellation_request"))
	assert.Equal(t, models.PriorityHigh, PriorityFor("booking_modification"))
	assert.Equal(t, models.PriorityMedium, PriorityFor("rate_update"))
	assert.Equal(t, models.PriorityLow, PriorityFor("something_else"))
}
