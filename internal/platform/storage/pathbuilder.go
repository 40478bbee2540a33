package storage

import (
	"fmt"
	"strings"
	"time"
)

const reconciliationRoot = "reconciliation"

// ReconciliationPrefix is the object prefix holding one UTC day of discrepancy records.
func ReconciliationPrefix(day time.Time) string {
	return fmt.Sprintf("%s/%s/", reconciliationRoot, day.UTC().Format(time.DateOnly))
}

// ReconciliationObjectPath composes reconciliation/<date>/<order>-<record>.json. Records
// without an order id are filed under "unmatched".
func ReconciliationObjectPath(at time.Time, orderID, recordID string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		orderID = "unmatched"
	}
	order, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	record, err := validateSegment("recordID", recordID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s-%s.json", ReconciliationPrefix(at), order, record), nil
}

// ParseReconciliationDay parses a YYYY-MM-DD day as used in archive prefixes.
func ParseReconciliationDay(value string) (time.Time, error) {
	day, err := time.Parse(time.DateOnly, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: day must be YYYY-MM-DD: %w", err)
	}
	return day, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
