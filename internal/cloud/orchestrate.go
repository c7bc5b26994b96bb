package cloud

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gyeh/medicare-lookup/internal/names"
	"github.com/gyeh/medicare-lookup/internal/output"
	"github.com/gyeh/medicare-lookup/internal/resolver"
)

// CloudBulkConfig holds configuration for a bulk lookup distributed over
// Fargate tasks.
type CloudBulkConfig struct {
	Entries        []names.Entry
	State          string
	OutputFile     string
	S3Bucket       string
	Region         string
	Subnets        []string
	SecurityGroups []string
	NamesPerTask   int
	WorkersPerTask int
}

type objectStore interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	DownloadSearchOutput(ctx context.Context, key string) (output.SearchOutput, error)
}

type taskRunner interface {
	LaunchTask(ctx context.Context, input TaskInput) (string, error)
	WaitForTasks(ctx context.Context, taskArns []string, onStatus func(running, pending, stopped int)) ([]TaskResult, error)
	StopRunning(ctx context.Context, taskArns []string) []error
}

type logTailer interface {
	StreamLogs(ctx context.Context, taskARN string, onLog func(line string))
}

// RunCloudBulk splits the names into chunks, runs one Fargate task per chunk,
// streams task logs to w, and merges the task results into cfg.OutputFile.
func RunCloudBulk(ctx context.Context, cfg CloudBulkConfig, w io.Writer) error {
	s3Client, err := NewS3Client(ctx, cfg.S3Bucket, cfg.Region)
	if err != nil {
		return fmt.Errorf("creating S3 client: %w", err)
	}
	orch, err := NewFargateOrchestrator(ctx, cfg.Region, cfg.S3Bucket, cfg.Subnets, cfg.SecurityGroups)
	if err != nil {
		return fmt.Errorf("creating Fargate orchestrator: %w", err)
	}
	logStreamer, err := NewLogStreamer(ctx, cfg.Region)
	if err != nil {
		return fmt.Errorf("creating log streamer: %w", err)
	}

	run := &bulkRun{
		store:  s3Client,
		tasks:  orch,
		logs:   logStreamer,
		w:      w,
		prefix: "runs/" + uuid.NewString() + "/",
	}
	out, err := run.execute(ctx, cfg)
	if err != nil {
		return err
	}

	var up output.Uploader = s3Client
	if strings.HasPrefix(cfg.OutputFile, "s3://") {
		bucket, _, err := output.ParseS3URI(cfg.OutputFile)
		if err != nil {
			return err
		}
		if bucket != cfg.S3Bucket {
			if up, err = NewS3Client(ctx, bucket, cfg.Region); err != nil {
				return fmt.Errorf("creating S3 client: %w", err)
			}
		}
	}
	if err := output.WriteResults(ctx, cfg.OutputFile, out, up); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	if cfg.OutputFile != "-" {
		fmt.Fprintf(w, "Results written to %s\n", cfg.OutputFile)
	}
	return nil
}

type bulkRun struct {
	store  objectStore
	tasks  taskRunner
	logs   logTailer
	w      io.Writer
	prefix string
}

func (r *bulkRun) execute(ctx context.Context, cfg CloudBulkConfig) (output.SearchOutput, error) {
	startTime := time.Now()

	perTask := cfg.NamesPerTask
	if perTask < 1 {
		perTask = 50
	}
	chunks := chunkEntries(cfg.Entries, perTask)
	fmt.Fprintf(r.w, "Distributing %d names across %d Fargate tasks (%d names/task)\n\n",
		len(cfg.Entries), len(chunks), perTask)

	nameKeys := make([]string, 0, len(chunks))
	resultKeys := make([]string, len(chunks))
	taskArns := make([]string, 0, len(chunks))

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if len(taskArns) > 0 {
			for _, err := range r.tasks.StopRunning(cleanupCtx, taskArns) {
				fmt.Fprintf(r.w, "  Warning: %v\n", err)
			}
		}
		for _, key := range nameKeys {
			_ = r.store.DeleteObject(cleanupCtx, key)
		}
	}()

	for i, chunk := range chunks {
		key := fmt.Sprintf("%snames/chunk-%03d.txt", r.prefix, i)
		if err := r.store.UploadBytes(ctx, key, []byte(names.Format(chunk)), "text/plain"); err != nil {
			return output.SearchOutput{}, fmt.Errorf("uploading name chunk %d: %w", i, err)
		}
		nameKeys = append(nameKeys, key)
	}

	for i, chunk := range chunks {
		resultKeys[i] = fmt.Sprintf("%sresults/task-%03d.json", r.prefix, i)
		arn, err := r.tasks.LaunchTask(ctx, TaskInput{
			NamesKey:  nameKeys[i],
			OutputKey: resultKeys[i],
			State:     cfg.State,
			Workers:   cfg.WorkersPerTask,
			TaskIndex: i,
		})
		if err != nil {
			return output.SearchOutput{}, fmt.Errorf("launching task %d: %w", i, err)
		}
		taskArns = append(taskArns, arn)
		fmt.Fprintf(r.w, "  Launched task %d/%d: %s (%d names)\n", i+1, len(chunks), TaskIDFromARN(arn), len(chunk))
	}

	logCtx, logCancel := context.WithCancel(ctx)
	defer logCancel()
	if r.logs != nil {
		for i, arn := range taskArns {
			go r.logs.StreamLogs(logCtx, arn, func(line string) {
				fmt.Fprintf(r.w, "[task-%03d] %s\n", i, line)
			})
		}
	}

	fmt.Fprintf(r.w, "\nWaiting for %d tasks to complete...\n", len(taskArns))
	taskResults, err := r.tasks.WaitForTasks(ctx, taskArns, func(running, pending, stopped int) {
		fmt.Fprintf(r.w, "  Tasks: %d running, %d pending, %d stopped (of %d total)\n",
			running, pending, stopped, len(taskArns))
	})
	if err != nil {
		return output.SearchOutput{}, fmt.Errorf("waiting for tasks: %w", err)
	}
	logCancel()

	merged := output.SearchOutput{
		SearchParams: output.SearchParams{State: cfg.State, Requested: len(cfg.Entries)},
		Results:      []resolver.MatchResult{},
	}
	succeeded := 0
	for i, tr := range taskResults {
		var partial output.SearchOutput
		if tr.Success {
			partial, err = r.store.DownloadSearchOutput(ctx, resultKeys[i])
			if err != nil {
				fmt.Fprintf(r.w, "  Warning: failed to download results for task %d: %v\n", i, err)
			} else {
				_ = r.store.DeleteObject(ctx, resultKeys[i])
			}
		} else {
			err = fmt.Errorf("task exited with code %d: %s", tr.ExitCode, tr.Reason)
			fmt.Fprintf(r.w, "  Task %s failed: exit code %d, reason: %s\n", TaskIDFromARN(tr.TaskArn), tr.ExitCode, tr.Reason)
		}

		if err != nil {
			for _, e := range chunks[i] {
				merged.Failures = append(merged.Failures, output.Failure{Term: e.Name, State: e.State, Error: err.Error()})
			}
			merged.SearchParams.Failed += len(chunks[i])
			continue
		}

		succeeded++
		merged.Results = append(merged.Results, partial.Results...)
		merged.Failures = append(merged.Failures, partial.Failures...)
		merged.SearchParams.Matched += partial.SearchParams.Matched
		merged.SearchParams.NotFound += partial.SearchParams.NotFound
		merged.SearchParams.Failed += partial.SearchParams.Failed
	}
	merged.SearchParams.DurationSeconds = time.Since(startTime).Seconds()

	fmt.Fprintf(r.w, "\nAll tasks finished: %d succeeded, %d failed\n", succeeded, len(taskResults)-succeeded)
	fmt.Fprintf(r.w, "Cloud bulk complete: %d requested, %d matched, %d not found, %d failed in %.1fs\n",
		merged.SearchParams.Requested, merged.SearchParams.Matched, merged.SearchParams.NotFound,
		merged.SearchParams.Failed, merged.SearchParams.DurationSeconds)
	return merged, nil
}

func chunkEntries(entries []names.Entry, chunkSize int) [][]names.Entry {
	var chunks [][]names.Entry
	for i := 0; i < len(entries); i += chunkSize {
		end := min(i+chunkSize, len(entries))
		chunks = append(chunks, entries[i:end])
	}
	return chunks
}
