package output

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go"
)

func sampleOutput() SearchOutput {
	return SearchOutput{
		SearchParams: SearchParams{State: "TX", Requested: 3, Matched: 2, NotFound: 1},
		Results: []resolver.MatchResult{
			{Name: "John Smith", NPI: "1234567890", State: "TX", TotalBeneficiaries: 412, TotalAllowedAmount: 98765.43, Tier: resolver.TierExact},
			{Name: "Jane Doe", NPI: "1987654321", State: "TX", TotalBeneficiaries: 17, TotalAllowedAmount: 1500.5, Tier: resolver.TierPartial},
		},
	}
}

func TestWriteResults_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteResults(context.Background(), path, sampleOutput(), nil); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got, err := ReadResults(f)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got.Results) != 2 || got.Results[1].Tier != resolver.TierPartial {
		t.Errorf("unexpected results: %+v", got.Results)
	}
	if got.SearchParams.NotFound != 1 {
		t.Errorf("NotFound = %d, want 1", got.SearchParams.NotFound)
	}
}

func TestWriteResults_EmptyResultsIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := WriteResults(context.Background(), path, SearchOutput{}, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !containsBytes(data, `"results": []`) {
		t.Errorf("expected empty results array, got %s", data)
	}
}

func TestWriteResults_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json.gz")
	if err := WriteResults(context.Background(), path, sampleOutput(), nil); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	got, err := ReadResults(gz)
	if err != nil {
		t.Fatal(err)
	}
	if got.Results[0].NPI != "1234567890" {
		t.Errorf("NPI = %s", got.Results[0].NPI)
	}
}

func TestWriteResults_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	if err := WriteResults(context.Background(), path, sampleOutput(), nil); err != nil {
		t.Fatal(err)
	}

	rows, err := parquet.ReadFile[MatchRow](path)
	if err != nil {
		t.Fatalf("reading parquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Name != "John Smith" || rows[0].TotalBeneficiaries != 412 || rows[0].MatchTier != "exact" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
}

type memUploader struct {
	key  string
	data []byte
}

func (m *memUploader) UploadBytes(_ context.Context, key string, data []byte, _ string) error {
	m.key, m.data = key, data
	return nil
}

func TestWriteResults_S3(t *testing.T) {
	up := &memUploader{}
	if err := WriteResults(context.Background(), "s3://bucket/results/task-000.json", sampleOutput(), up); err != nil {
		t.Fatal(err)
	}
	if up.key != "results/task-000.json" {
		t.Errorf("key = %q", up.key)
	}
	if !containsBytes(up.data, "John Smith") {
		t.Errorf("upload missing results: %s", up.data)
	}

	if err := WriteResults(context.Background(), "s3://bucket/x.json", sampleOutput(), nil); err == nil {
		t.Error("expected error without uploader")
	}
}

func TestParseS3URI(t *testing.T) {
	b, k, err := ParseS3URI("s3://my-bucket/a/b.txt")
	if err != nil || b != "my-bucket" || k != "a/b.txt" {
		t.Errorf("got %q %q %v", b, k, err)
	}
	for _, bad := range []string{"my-bucket/a", "s3://", "s3://bucket", "s3://bucket/"} {
		if _, _, err := ParseS3URI(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func containsBytes(b []byte, s string) bool {
	return strings.Contains(string(b), s)
}
