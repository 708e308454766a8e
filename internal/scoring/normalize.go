package scoring

import (
	"strconv"
	"strings"

	"github.com/pipelinewhisperer/outreach/internal/events"
)

// CompanyRecord is the normalized input handed to the scoring model.
type CompanyRecord struct {
	CompanyName   string  `json:"company_name"`
	Industry      string  `json:"industry"`
	EmployeeCount int     `json:"employee_count"`
	Revenue       float64 `json:"revenue"`
	Website       string  `json:"website"`
}

// Normalize flattens a raw lead into the scoring input, resolving size
// and budget buckets into numeric estimates.
func Normalize(raw *events.RawLead) CompanyRecord {
	size := raw.Company.Size
	if size == "" {
		size = raw.Metadata.CompanySize
	}
	industry := raw.Company.Industry
	if industry == "" {
		industry = raw.Metadata.Industry
	}
	website := raw.Company.Website
	if website == "" {
		website = raw.Metadata.Website
	}
	budget := raw.Metadata.BudgetRange
	if budget == "" {
		budget = raw.Metadata.Spend
	}

	return CompanyRecord{
		CompanyName:   raw.Company.Name,
		Industry:      industry,
		EmployeeCount: EmployeeCountFromBucket(size),
		Revenue:       RevenueFromBudget(budget),
		Website:       website,
	}
}

// EmployeeCountFromBucket maps a company-size bucket to a representative
// head count. Unrecognized buckets fall back to range parsing, then 0.
func EmployeeCountFromBucket(bucket string) int {
	switch strings.TrimSpace(bucket) {
	case "1-10":
		return 5
	case "11-50":
		return 30
	case "51-200":
		return 125
	case "201-1000":
		return 600
	case "1000+":
		return 2000
	case "":
		return 0
	}
	if n, ok := parseRange(bucket); ok {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(bucket)); err == nil && n >= 0 {
		return n
	}
	return 0
}

// RevenueFromBudget maps a budget bucket to a revenue estimate in
// dollars. The buckets describe willingness to spend, so the estimates
// scale the spend up to likely company revenue.
func RevenueFromBudget(bucket string) float64 {
	switch strings.ToLower(strings.TrimSpace(bucket)) {
	case "<10k":
		return 50_000
	case "10k-50k":
		return 200_000
	case "50k-100k":
		return 500_000
	case "100k-500k":
		return 2_500_000
	case "500k+":
		return 6_000_000
	}
	return 0
}

// parseRange resolves "a-b" to the midpoint and "a+" to double a.
func parseRange(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "+") {
		if lo, err := strconv.Atoi(strings.TrimSuffix(s, "+")); err == nil && lo > 0 {
			return lo * 2, true
		}
		return 0, false
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, false
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || hi < lo {
		return 0, false
	}
	return (lo + hi) / 2, true
}
