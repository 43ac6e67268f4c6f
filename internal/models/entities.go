package models

import (
	"time"
)

// Channel identifies an OTA integration endpoint
type Channel string

const (
	ChannelBookingCom Channel = "booking_com"
	ChannelExpedia    Channel = "expedia"
	ChannelAirbnb     Channel = "airbnb"
	ChannelAgoda      Channel = "agoda"
	ChannelDirect     Channel = "direct"
	ChannelOther      Channel = "other"
)

// Direction of a wire message relative to this system
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ProcessingStatus is monotonic: received → processing → processed|failed|ignored
type ProcessingStatus string

const (
	StatusReceived   ProcessingStatus = "received"
	StatusProcessing ProcessingStatus = "processing"
	StatusProcessed  ProcessingStatus = "processed"
	StatusFailed     ProcessingStatus = "failed"
	StatusIgnored    ProcessingStatus = "ignored"
)

// DataLevel is the sensitivity classification of a payload
type DataLevel string

const (
	DataLevelPublic       DataLevel = "public"
	DataLevelInternal     DataLevel = "internal"
	DataLevelConfidential DataLevel = "confidential"
	DataLevelRestricted   DataLevel = "restricted"
)

// Priority of the business operation a payload belongs to
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Classification captures the sensitivity of a stored payload
type Classification struct {
	ContainsPII         bool      `json:"contains_pii" db:"contains_pii"`
	ContainsPaymentData bool      `json:"contains_payment_data" db:"contains_payment_data"`
	DataLevel           DataLevel `json:"data_level" db:"data_level"`
}

// BusinessContext describes what operation a payload was part of
type BusinessContext struct {
	Operation string   `json:"operation" db:"operation"`
	Priority  Priority `json:"priority" db:"priority"`
}

// ParsedFields is the indexed subset extracted from a payload body
type ParsedFields struct {
	GuestName     string `json:"guest_name,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	BookingID     string `json:"booking_id,omitempty"`
	Operation     string `json:"operation,omitempty"`
	Amount        string `json:"amount,omitempty"`
}

// PayloadRecord is one row per wire message. The raw body is immutable
// once written; archiving drops the body but keeps hash and metadata.
type PayloadRecord struct {
	ID              string            `json:"id" db:"id"`
	CorrelationID   string            `json:"correlation_id" db:"correlation_id"`
	Direction       Direction         `json:"direction" db:"direction"`
	Channel         Channel           `json:"channel" db:"channel"`
	HotelID         string            `json:"hotel_id" db:"hotel_id"`
	Method          string            `json:"method" db:"method"`
	URL             string            `json:"url" db:"url"`
	Headers         map[string]string `json:"headers" db:"headers"`
	BodyCompressed  []byte            `json:"-" db:"body_compressed"`
	BodyHash        string            `json:"body_hash" db:"body_hash"`
	BodyTruncated   bool              `json:"body_truncated" db:"body_truncated"`
	ResponseStatus  *int              `json:"response_status,omitempty" db:"response_status"`
	ResponseBody    []byte            `json:"-" db:"response_body"`
	Parsed          ParsedFields      `json:"parsed" db:"parsed"`
	Status          ProcessingStatus  `json:"processing_status" db:"processing_status"`
	StatusReason    string            `json:"status_reason,omitempty" db:"status_reason"`
	Classification  Classification    `json:"classification"`
	Business        BusinessContext   `json:"business_context"`
	RetentionPolicy string            `json:"retention_policy" db:"retention_policy"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	ArchivedAt      *time.Time        `json:"archived_at,omitempty" db:"archived_at"`

	// Body holds the decompressed raw body; only populated on reads
	// that explicitly request it.
	Body []byte `json:"body,omitempty"`
}

// AmendmentType enumerates the change requests an OTA can send
type AmendmentType string

const (
	AmendmentBookingModification AmendmentType = "booking_modification"
	AmendmentGuestDetailsChange  AmendmentType = "guest_details_change"
	AmendmentDatesChange         AmendmentType = "dates_change"
	AmendmentRateChange          AmendmentType = "rate_change"
	AmendmentRoomChange          AmendmentType = "room_change"
	AmendmentCancellationRequest AmendmentType = "cancellation_request"
	AmendmentSpecialRequest      AmendmentType = "special_request_change"
)

// AmendmentState follows the state machine; terminal states are immutable
type AmendmentState string

const (
	AmendmentPending           AmendmentState = "pending"
	AmendmentApproved          AmendmentState = "approved"
	AmendmentRejected          AmendmentState = "rejected"
	AmendmentPartiallyApproved AmendmentState = "partially_approved"
	AmendmentAutoApproved      AmendmentState = "auto_approved"
	AmendmentExpired           AmendmentState = "expired"
)

// IsTerminal reports whether s permits no further transition
func (s AmendmentState) IsTerminal() bool {
	return s != AmendmentPending
}

// RequestedChanges carries the proposed booking mutation. Pointers
// distinguish "unchanged" from explicit values.
type RequestedChanges struct {
	CheckIn        *string  `json:"check_in,omitempty"`
	CheckOut       *string  `json:"check_out,omitempty"`
	RoomType       *string  `json:"room_type,omitempty"`
	RateAmount     *int64   `json:"rate_amount,omitempty"`
	GuestName      *string  `json:"guest_name,omitempty"`
	GuestEmail     *string  `json:"guest_email,omitempty"`
	GuestPhone     *string  `json:"guest_phone,omitempty"`
	SpecialRequest *string  `json:"special_request,omitempty"`
	Cancel         bool     `json:"cancel,omitempty"`
	Fields         []string `json:"fields,omitempty"`
}

// BookingSnapshot is the internal view of a booking at amendment time
type BookingSnapshot struct {
	BookingID  string `json:"booking_id"`
	HotelID    string `json:"hotel_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	RoomType   string `json:"room_type"`
	RateAmount int64  `json:"rate_amount"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email,omitempty"`
	Status     string `json:"status"`
	StopSell   bool   `json:"stop_sell"`
}

// Amendment is one OTA-originated request to change an existing booking
type Amendment struct {
	ID                 string           `json:"id" db:"id"`
	ChannelAmendmentID string           `json:"channel_amendment_id" db:"channel_amendment_id"`
	BookingID          string           `json:"booking_id" db:"booking_id"`
	HotelID            string           `json:"hotel_id" db:"hotel_id"`
	CorrelationID      string           `json:"correlation_id" db:"correlation_id"`
	Type               AmendmentType    `json:"type" db:"type"`
	State              AmendmentState   `json:"state" db:"state"`
	Requested          RequestedChanges `json:"requested_changes"`
	OriginalSnapshot   BookingSnapshot  `json:"original_snapshot"`
	RequestedByChannel Channel          `json:"requested_by_channel" db:"requested_by_channel"`
	RequestedByGuest   *string          `json:"requested_by_guest,omitempty" db:"requested_by_guest"`
	RequestedAt        time.Time        `json:"requested_at" db:"requested_at"`
	RequiresManual     bool             `json:"requires_manual_approval" db:"requires_manual_approval"`
	DecisionReason     *string          `json:"decision_reason,omitempty" db:"decision_reason"`
	DecidedAt          *time.Time       `json:"decided_at,omitempty" db:"decided_at"`
	DecidedBy          *string          `json:"decided_by,omitempty" db:"decided_by"`
	ExpiresAt          time.Time        `json:"expires_at" db:"expires_at"`
}

// BookingStatusTransition is an append-only audit row attached to a booking
type BookingStatusTransition struct {
	ID            int64     `json:"id" db:"id"`
	BookingID     string    `json:"booking_id" db:"booking_id"`
	FromStatus    string    `json:"from_status" db:"from_status"`
	ToStatus      string    `json:"to_status" db:"to_status"`
	Reason        string    `json:"reason" db:"reason"`
	Source        string    `json:"source" db:"source"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ChannelConfig is the per hotel × channel integration configuration
type ChannelConfig struct {
	ID              int64             `json:"id" db:"id"`
	HotelID         string            `json:"hotel_id" db:"hotel_id"`
	Channel         Channel           `json:"channel" db:"channel"`
	Credentials     string            `json:"-" db:"credentials"`
	SignatureSecret string            `json:"-" db:"signature_secret"`
	Endpoints       map[string]string `json:"endpoints,omitempty"`
	Language        string            `json:"language" db:"language"`
	Currency        string            `json:"currency" db:"currency"`
	RequestsPerSec  float64           `json:"requests_per_sec" db:"requests_per_sec"`
	Burst           int               `json:"burst" db:"burst"`
	Enabled         bool              `json:"enabled" db:"enabled"`
}

// Discrepancy is one mismatched field found during reconciliation
type Discrepancy struct {
	Field           string `json:"field"`
	InternalValue   string `json:"internal_value"`
	ExternalValue   string `json:"external_value"`
	SourcePayloadID string `json:"source_payload_id"`
}

// ReconciliationReport compares internal booking state with the most
// recent external view derived from stored payloads
type ReconciliationReport struct {
	BookingID        string        `json:"booking_id"`
	Timestamp        time.Time     `json:"timestamp"`
	PayloadsFound    int           `json:"payloads_found"`
	Discrepancies    []Discrepancy `json:"discrepancies"`
	ConsistencyScore float64       `json:"consistency_score"`
}

// DeadLetter is an event that exhausted its retries
type DeadLetter struct {
	ID            string    `json:"id" db:"id"`
	EventID       string    `json:"event_id" db:"event_id"`
	Kind          string    `json:"kind" db:"kind"`
	CorrelationID string    `json:"correlation_id" db:"correlation_id"`
	Payload       []byte    `json:"payload" db:"payload"`
	Attempts      int       `json:"attempts" db:"attempts"`
	LastError     string    `json:"last_error" db:"last_error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
