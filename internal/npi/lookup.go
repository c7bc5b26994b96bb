// Package npi reads provider details from the NPPES NPI Registry. The CMS
// utilization dataset has no specialty or address, so lookups use this to
// describe a matched provider.
package npi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const DefaultRegistryURL = "https://npiregistry.cms.hhs.gov/api/"

// ProviderInfo holds the key details returned by the registry.
type ProviderInfo struct {
	NPI             string `json:"npi"`
	Name            string `json:"name"`                 // "LAST, FIRST MIDDLE" for individuals, org name otherwise
	Credential      string `json:"credential,omitempty"` // e.g. "MD", "DO"
	Type            string `json:"type"`                 // "Individual" or "Organization"
	PrimaryTaxonomy string `json:"primary_taxonomy,omitempty"`
	TaxonomyCode    string `json:"taxonomy_code,omitempty"`
	PracticeAddress string `json:"practice_address,omitempty"`
	PracticePhone   string `json:"practice_phone,omitempty"`
	EnumerationDate string `json:"enumeration_date,omitempty"`
	Status          string `json:"status,omitempty"` // "A" = active
}

type apiResponse struct {
	ResultCount int         `json:"result_count"`
	Results     []apiResult `json:"results"`
	Errors      []struct {
		Description string `json:"description"`
	} `json:"Errors"`
}

type apiResult struct {
	Number          json.Number   `json:"number"`
	EnumerationType string        `json:"enumeration_type"`
	Basic           apiBasic      `json:"basic"`
	Addresses       []apiAddress  `json:"addresses"`
	Taxonomies      []apiTaxonomy `json:"taxonomies"`
}

type apiBasic struct {
	FirstName        string `json:"first_name"`
	MiddleName       string `json:"middle_name"`
	LastName         string `json:"last_name"`
	Credential       string `json:"credential"`
	OrganizationName string `json:"organization_name"`
	EnumerationDate  string `json:"enumeration_date"`
	Status           string `json:"status"`
}

type apiAddress struct {
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	AddressPurpose string `json:"address_purpose"` // "LOCATION" or "MAILING"
	Phone          string `json:"telephone_number"`
}

type apiTaxonomy struct {
	Code    string `json:"code"`
	Desc    string `json:"desc"`
	Primary bool   `json:"primary"`
}

// Registry is a client for the NPPES registry API.
type Registry struct {
	baseURL    string
	httpClient *http.Client
}

// NewRegistry returns a client for baseURL, or the public registry when
// baseURL is empty.
func NewRegistry(baseURL string, hc *http.Client) *Registry {
	if baseURL == "" {
		baseURL = DefaultRegistryURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Registry{baseURL: baseURL, httpClient: hc}
}

// Lookup returns the registry record for number, or nil if there is none.
func (r *Registry) Lookup(ctx context.Context, number string) (*ProviderInfo, error) {
	results, err := r.query(ctx, url.Values{"number": {strings.TrimSpace(number)}})
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return resultToProviderInfo(results[0]), nil
}

// SearchByName returns up to 20 individual providers named first last,
// optionally narrowed to a two-letter state.
func (r *Registry) SearchByName(ctx context.Context, firstName, lastName, state string) ([]*ProviderInfo, error) {
	q := url.Values{
		"enumeration_type": {"NPI-1"},
		"limit":            {"20"},
		"first_name":       {firstName},
		"last_name":        {lastName},
	}
	if state != "" {
		q.Set("state", strings.ToUpper(state))
	}

	results, err := r.query(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []*ProviderInfo
	for _, res := range results {
		out = append(out, resultToProviderInfo(res))
	}
	return out, nil
}

// LookupAll looks up several NPIs concurrently. Results keep input order and
// missing NPIs have nil entries.
func (r *Registry) LookupAll(ctx context.Context, numbers []string) ([]*ProviderInfo, []error) {
	results := make([]*ProviderInfo, len(numbers))
	errs := make([]error, len(numbers))

	var wg sync.WaitGroup
	for i, n := range numbers {
		wg.Add(1)
		go func(idx int, number string) {
			defer wg.Done()
			results[idx], errs[idx] = r.Lookup(ctx, number)
		}(i, n)
	}
	wg.Wait()
	return results, errs
}

func (r *Registry) query(ctx context.Context, q url.Values) ([]apiResult, error) {
	q.Set("version", "2.1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying NPI registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NPI registry returned HTTP %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("parsing NPI registry response: %w", err)
	}
	if len(apiResp.Errors) > 0 {
		return nil, fmt.Errorf("NPI registry: %s", apiResp.Errors[0].Description)
	}
	if apiResp.ResultCount == 0 {
		return nil, nil
	}
	return apiResp.Results, nil
}

func resultToProviderInfo(r apiResult) *ProviderInfo {
	info := &ProviderInfo{
		NPI:             r.Number.String(),
		EnumerationDate: r.Basic.EnumerationDate,
		Status:          r.Basic.Status,
	}

	if r.EnumerationType == "NPI-1" {
		info.Type = "Individual"
		info.Name = formatIndividualName(r.Basic)
		info.Credential = cleanField(r.Basic.Credential)
	} else {
		info.Type = "Organization"
		info.Name = r.Basic.OrganizationName
	}

	for _, t := range r.Taxonomies {
		if t.Primary {
			info.PrimaryTaxonomy = t.Desc
			info.TaxonomyCode = t.Code
			break
		}
	}
	if info.PrimaryTaxonomy == "" && len(r.Taxonomies) > 0 {
		info.PrimaryTaxonomy = r.Taxonomies[0].Desc
		info.TaxonomyCode = r.Taxonomies[0].Code
	}

	for _, addr := range r.Addresses {
		if addr.AddressPurpose == "LOCATION" {
			info.PracticeAddress = formatAddress(addr)
			info.PracticePhone = formatPhone(addr.Phone)
			break
		}
	}
	if info.PracticeAddress == "" && len(r.Addresses) > 0 {
		info.PracticeAddress = formatAddress(r.Addresses[0])
		info.PracticePhone = formatPhone(r.Addresses[0].Phone)
	}

	return info
}

func formatIndividualName(b apiBasic) string {
	parts := []string{cleanField(b.LastName)}
	if first := cleanField(b.FirstName); first != "" {
		parts = append(parts, first)
	}
	name := strings.Join(parts, ", ")
	if middle := cleanField(b.MiddleName); middle != "" {
		name += " " + middle
	}
	return name
}

func formatAddress(a apiAddress) string {
	var parts []string
	if a.City != "" {
		parts = append(parts, a.City)
	}
	if a.State != "" {
		parts = append(parts, a.State)
	}
	loc := strings.Join(parts, ", ")
	if a.PostalCode != "" {
		zip := a.PostalCode
		if len(zip) > 5 {
			zip = zip[:5]
		}
		loc += " " + zip
	}
	return loc
}

func formatPhone(phone string) string {
	p := strings.TrimSpace(strings.ReplaceAll(phone, "-", ""))
	if len(p) == 10 {
		return fmt.Sprintf("(%s) %s-%s", p[:3], p[3:6], p[6:])
	}
	return phone
}

func cleanField(s string) string {
	s = strings.TrimSpace(s)
	if s == "--" {
		return ""
	}
	return s
}
