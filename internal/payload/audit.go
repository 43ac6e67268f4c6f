package payload

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"otabridge/internal/models"
	"otabridge/internal/oerr"
)

// Audit inspects one stored payload across six dimensions and produces
// an overall score with a risk level.
func (s *Store) Audit(ctx context.Context, payloadID string) (*models.PayloadAuditResponse, error) {
	record, err := s.repo.GetByID(ctx, payloadID)
	if err != nil {
		return nil, oerr.Transient("payload lookup failed", err)
	}
	if record == nil {
		return nil, oerr.Validation(fmt.Sprintf("payload %s not found", payloadID), nil)
	}

	report := &models.PayloadAuditResponse{PayloadID: payloadID}

	report.Validation = s.auditValidation(record)
	report.Integrity = s.auditIntegrity(record)
	report.Security = s.auditSecurity(record)
	report.Performance = s.auditPerformance(record)
	report.Compliance = s.auditCompliance(record)

	related, err := s.repo.ListByCorrelation(ctx, record.CorrelationID)
	if err == nil {
		for _, r := range related {
			report.CrossReference = append(report.CrossReference, r.ID)
		}
	}

	passed := 0
	sections := []models.AuditSection{
		report.Validation, report.Integrity, report.Security, report.Performance, report.Compliance,
	}
	for _, sec := range sections {
		if sec.Passed {
			passed++
		}
	}
	report.OverallScore = 100 * float64(passed) / float64(len(sections))

	switch {
	case !report.Integrity.Passed:
		report.RiskLevel = "critical"
	case !report.Security.Passed:
		report.RiskLevel = "high"
	case report.OverallScore < 80:
		report.RiskLevel = "medium"
	default:
		report.RiskLevel = "low"
	}

	return report, nil
}

func (s *Store) auditValidation(record *models.PayloadRecord) models.AuditSection {
	sec := models.AuditSection{Passed: true}

	body, err := s.Decompress(record)
	if err != nil {
		sec.Passed = false
		sec.Details = append(sec.Details, "body not readable")
		return sec
	}
	if record.ArchivedAt == nil && len(body) > 0 && !json.Valid(body) {
		sec.Details = append(sec.Details, "body is not valid JSON")
	}
	if record.Parsed.Operation == "" {
		sec.Details = append(sec.Details, "operation could not be classified")
	}
	if record.Status == models.StatusFailed {
		sec.Passed = false
		sec.Details = append(sec.Details, "processing failed: "+record.StatusReason)
	}
	return sec
}

func (s *Store) auditIntegrity(record *models.PayloadRecord) models.AuditSection {
	sec := models.AuditSection{Passed: true}
	if err := s.VerifyIntegrity(record); err != nil {
		sec.Passed = false
		sec.Details = append(sec.Details, err.Error())
	}
	if record.BodyTruncated {
		sec.Details = append(sec.Details, "body truncated at storage time; hash covers full body")
	}
	return sec
}

func (s *Store) auditSecurity(record *models.PayloadRecord) models.AuditSection {
	sec := models.AuditSection{Passed: true}
	for k, v := range record.Headers {
		if v != "[REDACTED]" && sensitiveHeaders[strings.ToLower(k)] {
			sec.Passed = false
			sec.Details = append(sec.Details, "unredacted sensitive header: "+k)
		}
	}
	if record.Classification.ContainsPaymentData && record.Classification.DataLevel != models.DataLevelRestricted {
		sec.Passed = false
		sec.Details = append(sec.Details, "payment data not classified restricted")
	}
	return sec
}

func (s *Store) auditPerformance(record *models.PayloadRecord) models.AuditSection {
	sec := models.AuditSection{Passed: true}
	if record.BodyTruncated {
		sec.Details = append(sec.Details, "oversize body was truncated")
	}
	if len(record.BodyCompressed) > 512*1024 {
		sec.Details = append(sec.Details, "compressed body above 512KiB")
	}
	return sec
}

func (s *Store) auditCompliance(record *models.PayloadRecord) models.AuditSection {
	sec := models.AuditSection{Passed: true}
	if record.RetentionPolicy == "" {
		sec.Passed = false
		sec.Details = append(sec.Details, "no retention policy assigned")
	}
	if record.ArchivedAt != nil {
		sec.Details = append(sec.Details, "archived at "+record.ArchivedAt.Format(time.RFC3339))
	}
	return sec
}
