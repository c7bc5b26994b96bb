// Package report renders calculator results as a PDF pro forma or an HTML
// summary and delivers them by email.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gyeh/medicare-lookup/internal/resolver"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Program assumptions used by the calculator.
const (
	EligibleShare   = 0.80
	EnrollmentShare = 0.50
	RevenuePerVisit = 50
	VisitsPerYear   = 10
	ProfitMargin    = 0.45
)

// Figures are the aggregate numbers computed by the caller.
type Figures struct {
	TotalPatients    int64
	EnrolledPatients int64
	AnnualRevenue    float64
	AnnualProfit     float64
}

// EligiblePatients is the CCM-eligible share of TotalPatients, truncated.
func (f Figures) EligiblePatients() int64 {
	return int64(float64(f.TotalPatients) * EligibleShare)
}

// Report is everything a rendered report shows.
type Report struct {
	Providers []resolver.MatchResult
	NotFound  []string
	Figures   Figures
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

// flexNumber accepts a JSON number or numeric string.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v := strings.ReplaceAll(strings.TrimSpace(string(s)), ",", "")
	if v == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("expected number, got %s", b)
	}
	*n = flexNumber(f)
	return nil
}

// ProviderData is a provider as the calculator front end sends it.
type ProviderData struct {
	Name          flexString `json:"name"`
	NPI           flexString `json:"npi"`
	State         flexString `json:"state"`
	TotalPatients flexNumber `json:"totalPatients"`
}

func (p ProviderData) match() resolver.MatchResult {
	return resolver.MatchResult{
		Name:               string(p.Name),
		NPI:                string(p.NPI),
		State:              string(p.State),
		TotalBeneficiaries: int64(p.TotalPatients),
	}
}

// CalculationResults are the calculator's computed figures.
type CalculationResults struct {
	TotalPatients    flexNumber `json:"totalPatients"`
	EnrolledPatients flexNumber `json:"enrolledPatients"`
	AnnualRevenue    flexNumber `json:"annualRevenue"`
	AnnualProfit     flexNumber `json:"annualProfit"`
}

// Calculation is the payload stored by the calculator before the webhook fires.
type Calculation struct {
	CalculationResults
	Providers    []ProviderData `json:"providers"`
	NotFoundNPIs []flexString   `json:"notFoundNPIs"`
}

// FromCalculation decodes a stored calculation payload.
func FromCalculation(raw json.RawMessage) (Report, error) {
	var c Calculation
	if err := json.Unmarshal(raw, &c); err != nil {
		return Report{}, fmt.Errorf("decoding calculation: %w", err)
	}

	r := Report{Figures: c.figures()}
	for _, p := range c.Providers {
		r.Providers = append(r.Providers, p.match())
	}
	for _, npi := range c.NotFoundNPIs {
		r.NotFound = append(r.NotFound, string(npi))
	}
	if r.Figures.TotalPatients == 0 {
		for _, p := range r.Providers {
			r.Figures.TotalPatients += p.TotalBeneficiaries
		}
	}
	return r, nil
}

// FromSummary builds a single-provider report for the HTML summary email.
func FromSummary(results CalculationResults, provider ProviderData) Report {
	r := Report{
		Providers: []resolver.MatchResult{provider.match()},
		Figures:   results.figures(),
	}
	if r.Figures.TotalPatients == 0 {
		r.Figures.TotalPatients = int64(provider.TotalPatients)
	}
	return r
}

func (c CalculationResults) figures() Figures {
	return Figures{
		TotalPatients:    int64(c.TotalPatients),
		EnrolledPatients: int64(c.EnrolledPatients),
		AnnualRevenue:    float64(c.AnnualRevenue),
		AnnualProfit:     float64(c.AnnualProfit),
	}
}

var printer = message.NewPrinter(language.English)

func count(n int64) string {
	return printer.Sprintf("%d", n)
}

func money(f float64) string {
	return printer.Sprintf("$%.2f", f)
}
