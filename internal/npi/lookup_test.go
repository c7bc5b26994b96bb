package npi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const individual = `{
	"result_count": 1,
	"results": [{
		"number": %s,
		"enumeration_type": "NPI-1",
		"basic": {"first_name": "JOHN", "middle_name": "--", "last_name": "SMITH", "credential": "M.D.", "status": "A", "enumeration_date": "2006-05-23"},
		"addresses": [
			{"city": "OAKLAND", "state": "CA", "postal_code": "946121234", "address_purpose": "MAILING", "telephone_number": "510-555-0000"},
			{"city": "BERKELEY", "state": "CA", "postal_code": "94704", "address_purpose": "LOCATION", "telephone_number": "510-555-1234"}
		],
		"taxonomies": [
			{"code": "207Q00000X", "desc": "Family Medicine", "primary": false},
			{"code": "207R00000X", "desc": "Internal Medicine", "primary": true}
		]
	}]
}`

func TestLookup(t *testing.T) {
	for name, number := range map[string]string{"string": `"1234567890"`, "number": `1234567890`} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "1234567890", r.URL.Query().Get("number"))
				assert.Equal(t, "2.1", r.URL.Query().Get("version"))
				fmt.Fprintf(w, individual, number)
			}))
			defer srv.Close()

			info, err := NewRegistry(srv.URL, srv.Client()).Lookup(context.Background(), " 1234567890 ")
			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, ProviderInfo{
				NPI:             "1234567890",
				Name:            "SMITH, JOHN",
				Credential:      "M.D.",
				Type:            "Individual",
				PrimaryTaxonomy: "Internal Medicine",
				TaxonomyCode:    "207R00000X",
				PracticeAddress: "BERKELEY, CA 94704",
				PracticePhone:   "(510) 555-1234",
				EnumerationDate: "2006-05-23",
				Status:          "A",
			}, *info)
		})
	}
}

func TestLookup_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result_count": 0, "results": []}`)
	}))
	defer srv.Close()

	info, err := NewRegistry(srv.URL, srv.Client()).Lookup(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestLookup_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("number") == "bad" {
			fmt.Fprint(w, `{"Errors": [{"description": "Field number requires number value"}]}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	reg := NewRegistry(srv.URL, srv.Client())

	_, err := reg.Lookup(context.Background(), "bad")
	assert.ErrorContains(t, err, "requires number value")

	_, err = reg.Lookup(context.Background(), "1")
	assert.ErrorContains(t, err, "HTTP 502")
}

func TestSearchByName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "NPI-1", q.Get("enumeration_type"))
		assert.Equal(t, "Mary Ann", q.Get("first_name"))
		assert.Equal(t, "O'Neil", q.Get("last_name"))
		assert.Equal(t, "TX", q.Get("state"))
		fmt.Fprintf(w, individual, `"1234567890"`)
	}))
	defer srv.Close()

	got, err := NewRegistry(srv.URL, srv.Client()).SearchByName(context.Background(), "Mary Ann", "O'Neil", "tx")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1234567890", got[0].NPI)
}

func TestLookupAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := r.URL.Query().Get("number")
		if n == "2" {
			fmt.Fprint(w, `{"result_count": 0}`)
			return
		}
		fmt.Fprintf(w, individual, `"`+n+`"`)
	}))
	defer srv.Close()

	infos, errs := NewRegistry(srv.URL, srv.Client()).LookupAll(context.Background(), []string{"1", "2", "3"})
	require.Len(t, infos, 3)
	assert.Equal(t, "1", infos[0].NPI)
	assert.Nil(t, infos[1])
	assert.Equal(t, "3", infos[2].NPI)
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "(212) 555-0100", formatPhone("212-555-0100"))
	assert.Equal(t, "12345", formatPhone("12345"))
	assert.Equal(t, "", cleanField(" -- "))
	assert.Equal(t, "ACME CLINIC", resultToProviderInfo(apiResult{
		EnumerationType: "NPI-2",
		Basic:           apiBasic{OrganizationName: "ACME CLINIC"},
	}).Name)
}
