package models

import "time"

// WebhookAckResponse acknowledges an inbound webhook before async processing
type WebhookAckResponse struct {
	OK            bool   `json:"ok"`
	CorrelationID string `json:"correlationId"`
}

// PayloadQueryRequest - filters for the admin payload search
type PayloadQueryRequest struct {
	Channel       string `form:"channel"`
	Direction     string `form:"direction"`
	Operation     string `form:"operation"`
	Status        string `form:"status"`
	BookingID     string `form:"bookingId"`
	CorrelationID string `form:"correlationId"`
	SearchText    string `form:"searchText"`
	StartDate     string `form:"startDate"`
	EndDate       string `form:"endDate"`
	IncludeData   bool   `form:"includeData"`
	Page          int    `form:"page,default=1"`
	Limit         int    `form:"limit,default=50"`
	SortOrder     string `form:"sortOrder,default=desc"`
}

// PayloadQueryResponse - one page of payload records
type PayloadQueryResponse struct {
	Items      []PayloadRecord `json:"items"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalCount int64           `json:"total_count"`
}

// AuditSection is one dimension of a payload audit
type AuditSection struct {
	Passed  bool     `json:"passed"`
	Details []string `json:"details,omitempty"`
}

// PayloadAuditResponse - full audit of one stored payload
type PayloadAuditResponse struct {
	PayloadID      string       `json:"payload_id"`
	Validation     AuditSection `json:"validation"`
	Integrity      AuditSection `json:"integrity"`
	Security       AuditSection `json:"security"`
	Performance    AuditSection `json:"performance"`
	Compliance     AuditSection `json:"compliance"`
	CrossReference []string     `json:"cross_reference"`
	OverallScore   float64      `json:"overall_score"`
	RiskLevel      string       `json:"risk_level"`
}

// AmendmentDecisionRequest - approve/reject body
type AmendmentDecisionRequest struct {
	Reason           string            `json:"reason"`
	PartialChanges   *RequestedChanges `json:"partial_changes,omitempty"`
	BypassValidation bool              `json:"bypass_validation,omitempty"`
}

// BulkAmendmentRequest - decide many amendments in one call
type BulkAmendmentRequest struct {
	Action       string   `json:"action" binding:"required"`
	AmendmentIDs []string `json:"amendment_ids" binding:"required"`
	Reason       string   `json:"reason"`
}

// BulkAmendmentResult - per-item outcome of a bulk decide
type BulkAmendmentResult struct {
	AmendmentID string `json:"amendment_id"`
	OK          bool   `json:"ok"`
	State       string `json:"state,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BulkAmendmentResponse reports exactly one outcome per requested item
type BulkAmendmentResponse struct {
	Results []BulkAmendmentResult `json:"results"`
}

// BookingStatusChangeRequest - manual status override from the admin surface
type BookingStatusChangeRequest struct {
	Status           string `json:"status" binding:"required"`
	HotelID          string `json:"hotel_id"`
	Reason           string `json:"reason"`
	BypassValidation bool   `json:"bypass_validation,omitempty"`
	NotifyChannels   bool   `json:"notify_channels,omitempty"`
}

// ComplianceReportRequest - window for the compliance report
type ComplianceReportRequest struct {
	StartDate string `form:"startDate" binding:"required"`
	EndDate   string `form:"endDate" binding:"required"`
	Channel   string `form:"channel"`
	Direction string `form:"direction"`
}

// ComplianceReportResponse - counts and coverage over a time window
type ComplianceReportResponse struct {
	Window            string           `json:"window"`
	TotalPayloads     int64            `json:"total_payloads"`
	ByClassification  map[string]int64 `json:"by_classification"`
	RetentionOverdue  int64            `json:"retention_overdue"`
	RedactionCoverage float64          `json:"redaction_coverage"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// RetentionCleanupRequest - manual cleanup bounded by Limit
type RetentionCleanupRequest struct {
	Channel       string `json:"channel"`
	OlderThanDays int    `json:"older_than_days"`
	Operation     string `json:"operation"`
	Limit         int    `json:"limit"`
}

// RetentionStats - per-run sweep statistics
type RetentionStats struct {
	Scanned        int64     `json:"scanned"`
	Archived       int64     `json:"archived"`
	Deleted        int64     `json:"deleted"`
	BytesReclaimed int64     `json:"bytes_reclaimed"`
	RanAt          time.Time `json:"ran_at"`
}

// ExportRequest - audit data export parameters
type ExportRequest struct {
	Format          string `form:"format,default=json"`
	StartDate       string `form:"startDate" binding:"required"`
	EndDate         string `form:"endDate" binding:"required"`
	TableName       string `form:"tableName"`
	IncludePayloads bool   `form:"includePayloads"`
}

// MonitoringStatus - real-time snapshot of integration health
type MonitoringStatus struct {
	EventsPending int64              `json:"events_pending"`
	Dispatched    map[string]int64   `json:"dispatched_by_outcome"`
	QueueDepth    map[string]int64   `json:"queue_depth_by_partition"`
	CircuitOpen   []string           `json:"open_circuits"`
	Amendments    map[string]int64   `json:"amendments_by_state"`
	ChannelHealth map[string]float64 `json:"channel_success_rate"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// ErrorResponse is the stable error envelope for the external API
type ErrorResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
