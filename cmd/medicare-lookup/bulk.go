package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gyeh/medicare-lookup/internal/cloud"
	"github.com/gyeh/medicare-lookup/internal/names"
	"github.com/gyeh/medicare-lookup/internal/output"
	"github.com/gyeh/medicare-lookup/internal/progress"
	"github.com/gyeh/medicare-lookup/internal/worker"
	"github.com/spf13/cobra"
)

type bulkFlags struct {
	names      string
	namesFile  string
	state      string
	outputFile string
	workers    int
	noProgress bool

	cloud          bool
	s3Bucket       string
	region         string
	subnets        []string
	securityGroups []string
	namesPerTask   int
}

func newBulkCmd(rf *rootFlags) *cobra.Command {
	bf := &bulkFlags{}

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Resolve a list of physician names against the CMS dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rf.load(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				bf.workers = cfg.BulkWorkers
			}
			if !cmd.Flags().Changed("region") {
				bf.region = cfg.AWSRegion
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			entries, err := readEntries(ctx, bf)
			if err != nil {
				return fmt.Errorf("reading names: %w", err)
			}
			if len(entries) == 0 {
				return fmt.Errorf("no names specified")
			}

			if bf.cloud {
				if bf.s3Bucket == "" {
					return fmt.Errorf("--s3-bucket is required with --cloud")
				}
				if len(bf.subnets) == 0 {
					return fmt.Errorf("--subnets is required with --cloud")
				}
				return cloud.RunCloudBulk(ctx, cloud.CloudBulkConfig{
					Entries:        entries,
					State:          bf.state,
					OutputFile:     bf.outputFile,
					S3Bucket:       bf.s3Bucket,
					Region:         bf.region,
					Subnets:        bf.subnets,
					SecurityGroups: bf.securityGroups,
					NamesPerTask:   bf.namesPerTask,
					WorkersPerTask: bf.workers,
				}, cmd.ErrOrStderr())
			}

			var mgr progress.Manager
			if bf.noProgress {
				mgr = progress.NewLogManager()
			} else {
				mgr = progress.NewMPBManager()
			}

			startTime := time.Now()
			pool := &worker.Pool{
				Workers:  bf.workers,
				Resolver: newResolver(cfg, logger),
				Progress: mgr,
				Logger:   logger,
			}
			results := pool.Run(ctx, worker.NameRequests(entries, bf.state))
			mgr.Wait()

			out := buildOutput(results, bf.state, time.Since(startTime))

			up, err := outputUploader(ctx, bf.outputFile, bf.region)
			if err != nil {
				return err
			}
			if err := output.WriteResults(ctx, bf.outputFile, out, up); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}

			printSummary(cmd.ErrOrStderr(), out.SearchParams, bf.outputFile)
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("interrupted: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bf.names, "names", "", "Comma-separated physician names")
	cmd.Flags().StringVar(&bf.namesFile, "names-file", "", "File of names, one per line (local path or s3://bucket/key)")
	cmd.Flags().StringVar(&bf.state, "state", "", "Default two-letter state for names without one")
	cmd.Flags().StringVarP(&bf.outputFile, "output", "o", "results.json", "Output path ('-', .json, .json.gz, .parquet or s3://bucket/key)")
	cmd.Flags().IntVar(&bf.workers, "workers", 4, "Concurrent lookups (overrides BULK_WORKERS)")
	cmd.Flags().BoolVar(&bf.noProgress, "no-progress", false, "Log progress lines instead of drawing a progress bar")

	cmd.Flags().BoolVar(&bf.cloud, "cloud", false, "Distribute the lookups over ECS Fargate tasks")
	cmd.Flags().StringVar(&bf.s3Bucket, "s3-bucket", "", "S3 bucket for intermediate files (required with --cloud)")
	cmd.Flags().StringVar(&bf.region, "region", "us-east-1", "AWS region (overrides AWS_REGION)")
	cmd.Flags().StringSliceVar(&bf.subnets, "subnets", nil, "Subnet IDs for Fargate tasks")
	cmd.Flags().StringSliceVar(&bf.securityGroups, "security-groups", nil, "Security group IDs for Fargate tasks")
	cmd.Flags().IntVar(&bf.namesPerTask, "names-per-task", 50, "Names handled by each Fargate task")

	return cmd
}

// readEntries collects names from --names and --names-file. Names files may
// be plain text or RTF and may live in S3.
func readEntries(ctx context.Context, bf *bulkFlags) ([]names.Entry, error) {
	var entries []names.Entry
	if bf.names != "" {
		entries = append(entries, names.ParseList(strings.Split(bf.names, ","))...)
	}
	if bf.namesFile != "" {
		content, err := readNamesFile(ctx, bf.namesFile, bf.region)
		if err != nil {
			return nil, err
		}
		entries = append(entries, names.ParseFile(content)...)
	}
	return entries, nil
}

func readNamesFile(ctx context.Context, path, region string) (string, error) {
	if !strings.HasPrefix(path, "s3://") {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	bucket, key, err := output.ParseS3URI(path)
	if err != nil {
		return "", err
	}
	s3Client, err := cloud.NewS3Client(ctx, bucket, region)
	if err != nil {
		return "", fmt.Errorf("creating S3 client: %w", err)
	}
	data, err := s3Client.DownloadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// outputUploader returns an S3 uploader for s3:// paths and nil otherwise.
func outputUploader(ctx context.Context, path, region string) (output.Uploader, error) {
	if !strings.HasPrefix(path, "s3://") {
		return nil, nil
	}
	bucket, _, err := output.ParseS3URI(path)
	if err != nil {
		return nil, err
	}
	s3Client, err := cloud.NewS3Client(ctx, bucket, region)
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}
	return s3Client, nil
}

func buildOutput(results []worker.Result, state string, elapsed time.Duration) output.SearchOutput {
	sum := worker.Summarize(results)
	out := output.SearchOutput{
		SearchParams: output.SearchParams{
			State:           state,
			Requested:       sum.Requested,
			Matched:         sum.Matched,
			NotFound:        sum.NotFound,
			Failed:          sum.Failed,
			DurationSeconds: elapsed.Seconds(),
		},
		Results: worker.Matches(results),
	}
	for _, r := range results {
		if r.Err != nil {
			out.Failures = append(out.Failures, output.Failure{
				Term:  r.Request.Term,
				State: r.Request.State,
				Error: r.Err.Error(),
			})
		}
	}
	return out
}

func printSummary(w io.Writer, p output.SearchParams, outputFile string) {
	fmt.Fprintf(w, "\nBulk lookup complete: %d requested, %d matched, %d not found, %d failed in %.1fs\n",
		p.Requested, p.Matched, p.NotFound, p.Failed, p.DurationSeconds)
	if outputFile != "-" {
		fmt.Fprintf(w, "Results written to %s\n", outputFile)
	}
}
