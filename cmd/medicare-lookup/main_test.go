package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyeh/medicare-lookup/internal/output"
	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/gyeh/medicare-lookup/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smithRow = `[{"Rndrng_NPI":"1234567890","Rndrng_Prvdr_First_Name":"John","Rndrng_Prvdr_Last_Org_Name":"Smith","Rndrng_Prvdr_State_Abrvtn":"CA","Tot_Benes":"250","Tot_Mdcr_Alowd_Amt":"98000.5"}]`

// fakeCMS serves one provider, John Smith in CA. Every other query is empty.
func fakeCMS(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filter[Rndrng_Prvdr_Last_Org_Name]") == "Smith" || q.Get("filter[Rndrng_NPI]") == "1234567890" {
			fmt.Fprint(w, smithRow)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("CMS_BASE_URL", srv.URL)
	t.Setenv("CMS_MAX_ATTEMPTS", "1")
	t.Setenv("CMS_RETRY_DELAY", "1ms")
	return srv
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestLookupCommand_ByName(t *testing.T) {
	fakeCMS(t)

	stdout, _, err := runCLI(t, "lookup", "John", "Smith", "--state", "ca")
	require.NoError(t, err)

	var got resolver.MatchResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "John Smith", got.Name)
	assert.Equal(t, "1234567890", got.NPI)
	assert.Equal(t, int64(250), got.TotalBeneficiaries)
	assert.Equal(t, resolver.TierExact, got.Tier)
	assert.NotContains(t, stdout, "registry")
}

func TestLookupCommand_ByNPI(t *testing.T) {
	fakeCMS(t)

	stdout, _, err := runCLI(t, "lookup", "--npi", "1234567890")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"State": "CA"`)
}

func TestLookupCommand_NotFound(t *testing.T) {
	fakeCMS(t)

	stdout, _, err := runCLI(t, "lookup", "Nobody Here", "--state", "tx")
	require.Error(t, err)
	assert.Equal(t, "no physician found with name 'Nobody Here' in TX", err.Error())
	assert.Empty(t, stdout)
}

func TestLookupCommand_Details(t *testing.T) {
	fakeCMS(t)
	registry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1234567890", r.URL.Query().Get("number"))
		fmt.Fprint(w, `{"result_count":1,"results":[{"number":"1234567890","enumeration_type":"NPI-1",
			"basic":{"first_name":"JOHN","last_name":"SMITH","credential":"MD"},
			"taxonomies":[{"code":"207R00000X","desc":"Internal Medicine","primary":true}]}]}`)
	}))
	defer registry.Close()

	stdout, _, err := runCLI(t, "lookup", "John Smith", "--details", "--registry-url", registry.URL)
	require.NoError(t, err)

	var got struct {
		NPI      string `json:"NPI"`
		Registry struct {
			Name            string `json:"name"`
			Credential      string `json:"credential"`
			PrimaryTaxonomy string `json:"primary_taxonomy"`
		} `json:"registry"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "1234567890", got.NPI)
	assert.Equal(t, "SMITH, JOHN", got.Registry.Name)
	assert.Equal(t, "MD", got.Registry.Credential)
	assert.Equal(t, "Internal Medicine", got.Registry.PrimaryTaxonomy)
}

func TestLookupCommand_BadLogFormat(t *testing.T) {
	fakeCMS(t)

	_, _, err := runCLI(t, "--log-format", "xml", "lookup", "John Smith")
	assert.Error(t, err)
}

func TestBulkCommand_NamesFile(t *testing.T) {
	fakeCMS(t)
	dir := t.TempDir()
	namesPath := filepath.Join(dir, "names.txt")
	require.NoError(t, os.WriteFile(namesPath, []byte("John Smith, CA\n\nNobody Here\n"), 0o644))
	outPath := filepath.Join(dir, "out.json")

	_, stderr, err := runCLI(t, "bulk",
		"--names-file", namesPath,
		"--names", "Jane Doe",
		"--output", outPath,
		"--workers", "2",
		"--no-progress",
	)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Bulk lookup complete: 3 requested, 1 matched, 2 not found, 0 failed")
	assert.Contains(t, stderr, "Results written to "+outPath)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	out, err := output.ReadResults(f)
	require.NoError(t, err)

	assert.Equal(t, 3, out.SearchParams.Requested)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "1234567890", out.Results[0].NPI)
	assert.Empty(t, out.Failures)
}

func TestBulkCommand_NoNames(t *testing.T) {
	fakeCMS(t)

	_, _, err := runCLI(t, "bulk", "--names", " , ", "--no-progress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no names specified")
}

func TestBulkCommand_CloudNeedsBucket(t *testing.T) {
	fakeCMS(t)

	_, _, err := runCLI(t, "bulk", "--names", "John Smith", "--cloud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--s3-bucket is required")
}

func TestBuildOutput(t *testing.T) {
	results := []worker.Result{
		{Request: resolver.NameRequest("Ann Lee", "NY"), Match: &resolver.MatchResult{Name: "Ann Lee", NPI: "1"}},
		{Request: resolver.NameRequest("No One", "")},
		{Request: resolver.NameRequest("Bad Row", "TX"), Err: errors.New("malformed Tot_Benes")},
	}

	out := buildOutput(results, "NY", 1500*time.Millisecond)
	assert.Equal(t, output.SearchParams{
		State:           "NY",
		Requested:       3,
		Matched:         1,
		NotFound:        1,
		Failed:          1,
		DurationSeconds: 1.5,
	}, out.SearchParams)
	require.Len(t, out.Results, 1)
	assert.Equal(t, []output.Failure{{Term: "Bad Row", State: "TX", Error: "malformed Tot_Benes"}}, out.Failures)
}

func TestReadEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "names.rtf")
	require.NoError(t, os.WriteFile(path, []byte(`{\rtf1\ansi Mary Jones, tx\par Bob Stone\par}`), 0o644))

	entries, err := readEntries(context.Background(), &bulkFlags{names: "Ann Lee, Tom Ray", namesFile: path})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "Ann Lee", entries[0].Name)
	assert.Equal(t, "Tom Ray", entries[1].Name)
	assert.Equal(t, "Mary Jones", entries[2].Name)
	assert.Equal(t, "TX", entries[2].State)
	assert.Equal(t, "Bob Stone", entries[3].Name)

	_, err = readEntries(context.Background(), &bulkFlags{namesFile: filepath.Join(dir, "nope.txt")})
	assert.Error(t, err)
}

func TestOutputUploader_Local(t *testing.T) {
	up, err := outputUploader(context.Background(), "results.json", "us-east-1")
	require.NoError(t, err)
	assert.Nil(t, up)
}
