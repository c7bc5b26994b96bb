package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gyeh/medicare-lookup/internal/cms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type query struct {
	filters cms.Filters
	size    int
}

type fakeDirectory struct {
	mu      sync.Mutex
	rows    []cms.Row
	err     error
	queries []query
}

func (f *fakeDirectory) Query(_ context.Context, filters cms.Filters, maxResults int) ([]cms.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query{filters: filters, size: maxResults})
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func row(npi, first, last, state string, benes int64, amt float64) cms.Row {
	return cms.Row{
		NPI: npi, FirstName: first, LastOrgName: last, State: state,
		TotalBeneficiaries: benes, TotalAllowedAmount: amt, HasName: true,
	}
}

func TestResolve_NameExamplePrefersPrefixMatch(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		row("111", "Jon", "Smith", "TX", 10, 100),
		row("222", "John", "Smith", "CA", 20, 200),
	}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, MatchResult{
		Name: "John Smith", NPI: "222", State: "CA",
		TotalBeneficiaries: 20, TotalAllowedAmount: 200, Tier: TierExact,
	}, *res)

	require.Len(t, dir.queries, 1)
	assert.Equal(t, cms.Filters{cms.ColumnLastOrgName: "Smith"}, dir.queries[0].filters)
	assert.Equal(t, DefaultMaxNameResults, dir.queries[0].size)
}

func TestResolve_NPI(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{row("12345", "Ann", "Lee", "NY", 5, 50)}}
	res, err := New(dir).Resolve(context.Background(), NPIRequest(" 12345 ", ""))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "12345", res.NPI)
	assert.Equal(t, TierNPI, res.Tier)
	require.Len(t, dir.queries, 1)
	assert.Equal(t, cms.Filters{cms.ColumnNPI: "12345"}, dir.queries[0].filters)
	assert.Equal(t, 1, dir.queries[0].size)
}

func TestResolve_NPIAcceptsRowWithoutNameComparison(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{row("999", "Someone", "Else", "FL", 1, 1)}}
	res, err := New(dir).Resolve(context.Background(), NPIRequest("999", "fl"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Someone Else", res.Name)
	assert.Equal(t, cms.Filters{cms.ColumnNPI: "999", cms.ColumnState: "FL"}, dir.queries[0].filters)
}

func TestResolve_StateAddedToFilterAndEnforced(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		row("1", "John", "Smith", "CA", 1, 1),
		row("2", "Johnny", "Smith", "tx", 2, 2),
	}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", "tx"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "2", res.NPI)
	assert.Equal(t, cms.Filters{cms.ColumnLastOrgName: "Smith", cms.ColumnState: "TX"}, dir.queries[0].filters)
}

func TestResolve_StateNeverViolated(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		row("1", "John", "Smith", "CA", 1, 1),
		row("2", "Bjohnson", "Smith", "OK", 1, 1),
	}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", "TX"))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_TierOnePriorityRegardlessOfOrder(t *testing.T) {
	partial := row("P", "Mary-John", "Smith", "TX", 1, 1)
	exact := row("E", "Johnathan", "Smith", "TX", 2, 2)

	for _, rows := range [][]cms.Row{{partial, exact}, {exact, partial}} {
		dir := &fakeDirectory{rows: rows}
		res, err := New(dir).Resolve(context.Background(), NameRequest("john smith", ""))
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, "E", res.NPI)
		assert.Equal(t, TierExact, res.Tier)
	}
}

func TestResolve_FirstPartialWins(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		row("0", "Alice", "Smith", "TX", 0, 0),
		row("1", "Mary Ann", "Smith", "TX", 1, 1),
		row("2", "Leann", "Smith", "TX", 2, 2),
	}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("Ann Smith", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "1", res.NPI)
	assert.Equal(t, TierPartial, res.Tier)
}

func TestResolve_LastNameCaseInsensitive(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{row("1", "JOHN", "SMITH", "TX", 1, 1)}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("john smith", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "JOHN SMITH", res.Name)
}

func TestResolve_SingleTokenIsLastName(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		row("1", "Zed", "Jones", "TX", 1, 1),
		row("2", "Amy", "Smith", "TX", 1, 1),
	}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("  Smith ", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "2", res.NPI)
	assert.Equal(t, cms.Filters{cms.ColumnLastOrgName: "Smith"}, dir.queries[0].filters)
}

func TestResolve_MultiWordLastName(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{row("1", "Maria", "De La Cruz", "TX", 1, 1)}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("Maria   De La Cruz", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, cms.Filters{cms.ColumnLastOrgName: "De La Cruz"}, dir.queries[0].filters)
}

func TestResolve_EmptyFetchIsNotFound(t *testing.T) {
	dir := &fakeDirectory{}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_NoTierMatchIsNotFound(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{row("1", "Bob", "Smith", "TX", 1, 1)}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_MissingNumericFieldsDefault(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{{NPI: "1", FirstName: "John", LastOrgName: "Smith", HasName: true}}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Zero(t, res.TotalBeneficiaries)
	assert.Zero(t, res.TotalAllowedAmount)
}

func TestResolve_SkipsRowsWithoutName(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		{NPI: "0", Invalid: []string{cms.ColumnTotalBeneficiaries}},
		row("1", "John", "Smith", "TX", 1, 1),
	}}
	res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "1", res.NPI)
}

func TestResolve_MalformedRowIsResolutionError(t *testing.T) {
	bad := row("0", "", "", "", 0, 0)
	bad.Invalid = []string{cms.ColumnLastOrgName}
	dir := &fakeDirectory{rows: []cms.Row{row("9", "Al", "Jones", "TX", 0, 0), bad}}

	req := NameRequest("John Smith", "")
	_, err := New(dir).Resolve(context.Background(), req)

	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Index)
	assert.Equal(t, cms.ColumnLastOrgName, re.Column)
	assert.Equal(t, req, re.Request)
}

func TestResolve_MalformedSelectedAmountIsResolutionError(t *testing.T) {
	r := row("1", "John", "Smith", "TX", 0, 0)
	r.Invalid = []string{cms.ColumnTotalAllowedAmount}
	dir := &fakeDirectory{rows: []cms.Row{r}}

	_, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 0, re.Index)
}

func TestResolve_DirectoryErrorsPropagateUnchanged(t *testing.T) {
	for _, want := range []error{
		&cms.PermanentFetchError{StatusCode: 404},
		&cms.TransientFetchError{StatusCode: 503, Attempts: 3},
		&cms.DecodeError{Err: errors.New("bad")},
	} {
		dir := &fakeDirectory{err: want}
		res, err := New(dir).Resolve(context.Background(), NameRequest("John Smith", ""))
		assert.Nil(t, res)
		assert.Same(t, want, err)
	}
}

func TestResolve_EmptyTerm(t *testing.T) {
	dir := &fakeDirectory{}
	_, err := New(dir).Resolve(context.Background(), NameRequest("   ", ""))
	assert.ErrorIs(t, err, ErrEmptyTerm)
	assert.Empty(t, dir.queries)
}

func TestResolve_Idempotent(t *testing.T) {
	dir := &fakeDirectory{rows: []cms.Row{
		row("1", "Jon", "Smith", "TX", 1, 1.5),
		row("2", "John", "Smith", "TX", 2, 2.5),
	}}
	r := New(dir)
	a, err := r.Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), NameRequest("John Smith", ""))
	require.NoError(t, err)
	assert.Equal(t, *a, *b)
}

func TestResolve_WithMaxNameResults(t *testing.T) {
	dir := &fakeDirectory{}
	New(dir, WithMaxNameResults(250)).Resolve(context.Background(), NameRequest("John Smith", ""))
	require.Len(t, dir.queries, 1)
	assert.Equal(t, 250, dir.queries[0].size)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("NPI")
	require.NoError(t, err)
	assert.Equal(t, ByNPI, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, ByName, k)

	_, err = ParseKind("zip")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestNewFromConfig_EndToEnd(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "1234567890", r.URL.Query().Get("filter[Rndrng_NPI]"))
		assert.Equal(t, "1", r.URL.Query().Get("size"))
		w.Write([]byte(`[{"Rndrng_NPI":"1234567890","Rndrng_Prvdr_First_Name":"Ann","Rndrng_Prvdr_Last_Org_Name":"Lee","Rndrng_Prvdr_State_Abrvtn":"NY","Tot_Benes":"300","Tot_Mdcr_Alowd_Amt":"4500.25"}]`))
	}))
	defer srv.Close()

	r := NewFromConfig(cms.Config{BaseURL: srv.URL, RetryDelay: time.Millisecond})
	res, err := r.Resolve(context.Background(), NPIRequest("1234567890", ""))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Ann Lee", res.Name)
	assert.Equal(t, int64(300), res.TotalBeneficiaries)
	assert.InDelta(t, 4500.25, res.TotalAllowedAmount, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
