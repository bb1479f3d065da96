package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AnomalyType string

const (
	AnomalyStatisticalOutlier AnomalyType = "statistical_outlier"
	AnomalyNovelMerchant      AnomalyType = "novel_merchant"
)

type Severity string

const (
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
	SeverityMinimal Severity = "minimal"
)

// ParseSeverity validates a severity string coming from a user.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow, SeverityMinimal:
		return Severity(s), true
	}
	return "", false
}

// AnomalyRecord is a flagged transaction. Only the acknowledgement fields ever change.
type AnomalyRecord struct {
	ID              string          `json:"id"`
	TxnIdentity     string          `json:"txn_identity"`
	Type            AnomalyType     `json:"anomaly_type"`
	Severity        Severity        `json:"severity"`
	Driver          string          `json:"driver"`
	RemediationHint string          `json:"remediation_hint"`
	Category        string          `json:"category"`
	MerchantRaw     string          `json:"merchant_raw"`
	Amount          decimal.Decimal `json:"amount"`
	ZScore          float64         `json:"z_score"`
	RunID           string          `json:"run_id"`
	FlaggedAt       time.Time       `json:"flagged_at"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}
