package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go"
)

// SearchParams describes a bulk run.
type SearchParams struct {
	State           string  `json:"state,omitempty"`
	Requested       int     `json:"requested"`
	Matched         int     `json:"matched"`
	NotFound        int     `json:"not_found"`
	Failed          int     `json:"failed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Failure records a request that errored.
type Failure struct {
	Term  string `json:"term"`
	State string `json:"state,omitempty"`
	Error string `json:"error"`
}

// SearchOutput is the document written for a bulk run.
type SearchOutput struct {
	SearchParams SearchParams           `json:"search_params"`
	Results      []resolver.MatchResult `json:"results"`
	Failures     []Failure              `json:"failures,omitempty"`
}

// Uploader stores an object in the bucket named by an s3:// output path.
type Uploader interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
}

// WriteResults writes out to outputPath. The format follows the path:
// "-" is JSON on stdout, ".json.gz" is gzip-compressed JSON, ".parquet" is
// one row per match, "s3://bucket/key" uploads JSON through up, anything
// else is indented JSON.
func WriteResults(ctx context.Context, outputPath string, out SearchOutput, up Uploader) error {
	if out.Results == nil {
		out.Results = []resolver.MatchResult{}
	}

	switch {
	case outputPath == "-":
		data, err := marshal(out)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		fmt.Fprintln(os.Stdout)
		return err

	case strings.HasPrefix(outputPath, "s3://"):
		if up == nil {
			return fmt.Errorf("no uploader configured for %s", outputPath)
		}
		_, key, err := ParseS3URI(outputPath)
		if err != nil {
			return err
		}
		data, err := marshal(out)
		if err != nil {
			return err
		}
		return up.UploadBytes(ctx, key, data, "application/json")

	case strings.HasSuffix(outputPath, ".parquet"):
		return writeParquet(outputPath, out.Results)

	case strings.HasSuffix(outputPath, ".gz"):
		data, err := marshal(out)
		if err != nil {
			return err
		}
		return writeGzip(outputPath, data)
	}

	data, err := marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

// ReadResults decodes a JSON document written by WriteResults.
func ReadResults(r io.Reader) (SearchOutput, error) {
	var out SearchOutput
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding search output: %w", err)
	}
	return out, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI needs a bucket and key: %q", uri)
	}
	return bucket, key, nil
}

func marshal(out SearchOutput) ([]byte, error) {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling output: %w", err)
	}
	return data, nil
}

func writeGzip(path string, data []byte) error {
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return fmt.Errorf("compressing output: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing output: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// MatchRow is the parquet layout of a MatchResult.
type MatchRow struct {
	Name               string  `parquet:"name"`
	NPI                string  `parquet:"npi"`
	State              string  `parquet:"state"`
	TotalBeneficiaries int64   `parquet:"total_beneficiaries"`
	TotalAllowedAmount float64 `parquet:"total_allowed_amount"`
	MatchTier          string  `parquet:"match_tier"`
}

func writeParquet(path string, results []resolver.MatchResult) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating parquet file: %w", err)
	}

	writer := parquet.NewGenericWriter[MatchRow](file,
		parquet.Compression(&parquet.Snappy),
	)

	rows := make([]MatchRow, len(results))
	for i, r := range results {
		rows[i] = MatchRow{
			Name:               r.Name,
			NPI:                r.NPI,
			State:              r.State,
			TotalBeneficiaries: r.TotalBeneficiaries,
			TotalAllowedAmount: r.TotalAllowedAmount,
			MatchTier:          string(r.Tier),
		}
	}

	if _, err := writer.Write(rows); err != nil {
		file.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return file.Close()
}
