package resolver

import (
	"fmt"
	"strings"

	"github.com/gyeh/medicare-lookup/internal/cms"
)

// Tier records how a match was selected.
type Tier string

const (
	TierNPI     Tier = "npi"     // NPI filter, no name comparison
	TierExact   Tier = "exact"   // last name equal, first name prefix
	TierPartial Tier = "partial" // last name equal, first name substring
)

// MatchResult is the normalized summary of one provider. JSON field names
// follow the dataset columns consumed by the calculator front end.
type MatchResult struct {
	Name               string  `json:"name"`
	NPI                string  `json:"NPI"`
	State              string  `json:"State"`
	TotalBeneficiaries int64   `json:"Tot_Benes"`
	TotalAllowedAmount float64 `json:"Tot_Mdcr_Alowd_Amt"`
	Tier               Tier    `json:"match_tier"`
}

// ResolutionError reports a row that could not be compared or projected.
type ResolutionError struct {
	Index   int
	Column  string
	Request SearchRequest
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s %q: row %d has malformed %s",
		e.Request.Kind, e.Request.Term, e.Index, e.Column)
}

func project(row cms.Row, idx int, req SearchRequest, tier Tier) (*MatchResult, error) {
	for _, col := range []string{cms.ColumnTotalBeneficiaries, cms.ColumnTotalAllowedAmount, cms.ColumnNPI, cms.ColumnState} {
		if row.IsInvalid(col) {
			return nil, &ResolutionError{Index: idx, Column: col, Request: req}
		}
	}
	return &MatchResult{
		Name:               strings.TrimSpace(row.FirstName + " " + row.LastOrgName),
		NPI:                row.NPI,
		State:              row.State,
		TotalBeneficiaries: row.TotalBeneficiaries,
		TotalAllowedAmount: row.TotalAllowedAmount,
		Tier:               tier,
	}, nil
}
