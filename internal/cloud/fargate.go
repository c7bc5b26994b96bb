package cloud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

const (
	clusterName   = "medicare-lookup"
	taskFamily    = "medicare-lookup-worker"
	containerName = "medicare-lookup"
	binaryPath    = "/medicare-lookup"

	// DescribeTasks accepts at most 100 tasks per call.
	describeBatch = 100
)

// FargateOrchestrator launches and tracks bulk lookup tasks on ECS Fargate.
type FargateOrchestrator struct {
	ecsClient      *ecs.Client
	bucket         string
	subnets        []string
	securityGroups []string
	PollInterval   time.Duration
}

// NewFargateOrchestrator creates a new Fargate orchestrator.
func NewFargateOrchestrator(ctx context.Context, region, bucket string, subnets, securityGroups []string) (*FargateOrchestrator, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &FargateOrchestrator{
		ecsClient:      ecs.NewFromConfig(cfg),
		bucket:         bucket,
		subnets:        subnets,
		securityGroups: securityGroups,
		PollInterval:   15 * time.Second,
	}, nil
}

// TaskInput defines the parameters for a single Fargate task.
type TaskInput struct {
	NamesKey  string // S3 key of the task's name list
	OutputKey string // S3 key for results
	State     string // default state for names without one
	Workers   int
	TaskIndex int
}

// TaskCommand is the container command for one task.
func TaskCommand(bucket string, in TaskInput) []string {
	cmd := []string{
		binaryPath, "bulk",
		"--names-file", fmt.Sprintf("s3://%s/%s", bucket, in.NamesKey),
		"--output", fmt.Sprintf("s3://%s/%s", bucket, in.OutputKey),
		"--no-progress",
	}
	if in.Workers > 0 {
		cmd = append(cmd, "--workers", strconv.Itoa(in.Workers))
	}
	if in.State != "" {
		cmd = append(cmd, "--state", in.State)
	}
	return cmd
}

// LaunchTask starts a Fargate task with the given parameters.
func (f *FargateOrchestrator) LaunchTask(ctx context.Context, input TaskInput) (string, error) {
	result, err := f.ecsClient.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(clusterName),
		TaskDefinition: aws.String(taskFamily),
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        f.subnets,
				SecurityGroups: f.securityGroups,
				AssignPublicIp: ecstypes.AssignPublicIpEnabled,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{
				{
					Name:    aws.String(containerName),
					Command: TaskCommand(f.bucket, input),
				},
			},
		},
		CapacityProviderStrategy: []ecstypes.CapacityProviderStrategyItem{
			{
				CapacityProvider: aws.String("FARGATE_SPOT"),
				Weight:           1,
			},
		},
		StartedBy: aws.String(fmt.Sprintf("medicare-lookup-%03d", input.TaskIndex)),
	})
	if err != nil {
		return "", fmt.Errorf("launching Fargate task: %w", err)
	}
	if len(result.Failures) > 0 {
		return "", fmt.Errorf("launching Fargate task: %s", aws.ToString(result.Failures[0].Reason))
	}
	if len(result.Tasks) == 0 {
		return "", fmt.Errorf("no tasks launched")
	}

	return aws.ToString(result.Tasks[0].TaskArn), nil
}

// DescribeTasks returns the current state of the given tasks, and the ECS
// failures (usually MISSING) for ARNs it could not describe.
func (f *FargateOrchestrator) DescribeTasks(ctx context.Context, taskArns []string) ([]ecstypes.Task, []ecstypes.Failure, error) {
	var tasks []ecstypes.Task
	var failures []ecstypes.Failure
	for start := 0; start < len(taskArns); start += describeBatch {
		end := min(start+describeBatch, len(taskArns))
		resp, err := f.ecsClient.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(clusterName),
			Tasks:   taskArns[start:end],
		})
		if err != nil {
			return nil, nil, fmt.Errorf("describing tasks: %w", err)
		}
		tasks = append(tasks, resp.Tasks...)
		failures = append(failures, resp.Failures...)
	}
	return tasks, failures, nil
}

// StopRunning stops every task in taskArns that has not stopped yet.
func (f *FargateOrchestrator) StopRunning(ctx context.Context, taskArns []string) []error {
	tasks, _, err := f.DescribeTasks(ctx, taskArns)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, t := range tasks {
		if aws.ToString(t.LastStatus) == "STOPPED" {
			continue
		}
		_, err := f.ecsClient.StopTask(ctx, &ecs.StopTaskInput{
			Cluster: aws.String(clusterName),
			Task:    t.TaskArn,
			Reason:  aws.String("medicare-lookup bulk run cancelled"),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("stopping task %s: %w", TaskIDFromARN(aws.ToString(t.TaskArn)), err))
		}
	}
	return errs
}

// TaskResult is the final state of one task.
type TaskResult struct {
	TaskArn  string
	Success  bool
	ExitCode int32
	Reason   string
}

// WaitForTasks polls until every task has stopped and returns one result per
// task in taskArns order. onStatus, if set, is called after each poll that
// leaves tasks outstanding.
func (f *FargateOrchestrator) WaitForTasks(ctx context.Context, taskArns []string, onStatus func(running, pending, stopped int)) ([]TaskResult, error) {
	interval := f.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		tasks, failures, err := f.DescribeTasks(ctx, taskArns)
		if err != nil {
			return nil, err
		}

		running, pending, stopped := tallyTasks(tasks, failures)
		if stopped >= len(taskArns) {
			return taskResults(taskArns, tasks, failures), nil
		}
		if onStatus != nil {
			onStatus(running, pending, stopped)
		}
	}
}

// tallyTasks counts tasks by lifecycle stage. Tasks ECS no longer knows
// about will never change state, so they count as stopped.
func tallyTasks(tasks []ecstypes.Task, failures []ecstypes.Failure) (running, pending, stopped int) {
	stopped = len(failures)
	for _, task := range tasks {
		switch aws.ToString(task.LastStatus) {
		case "RUNNING", "DEACTIVATING", "STOPPING", "DEPROVISIONING":
			running++
		case "STOPPED":
			stopped++
		default:
			pending++
		}
	}
	return running, pending, stopped
}

// taskResults matches described tasks back to taskArns. A task counts as
// successful only when all of its containers exited with code 0.
func taskResults(taskArns []string, tasks []ecstypes.Task, failures []ecstypes.Failure) []TaskResult {
	byArn := make(map[string]ecstypes.Task, len(tasks))
	for _, t := range tasks {
		byArn[aws.ToString(t.TaskArn)] = t
	}
	failed := make(map[string]string, len(failures))
	for _, f := range failures {
		failed[aws.ToString(f.Arn)] = aws.ToString(f.Reason)
	}

	results := make([]TaskResult, len(taskArns))
	for i, arn := range taskArns {
		res := TaskResult{TaskArn: arn, Success: true}
		task, ok := byArn[arn]
		if !ok {
			reason := "task not found"
			if r := failed[arn]; r != "" {
				reason += ": " + r
			}
			results[i] = TaskResult{TaskArn: arn, ExitCode: -1, Reason: reason}
			continue
		}
		if len(task.Containers) == 0 {
			res.Success = false
			res.ExitCode = -1
		}
		for _, c := range task.Containers {
			if c.ExitCode == nil {
				res.Success = false
				res.ExitCode = -1
				res.Reason = aws.ToString(c.Reason)
				break
			}
			if *c.ExitCode != 0 {
				res.Success = false
				res.ExitCode = *c.ExitCode
				res.Reason = aws.ToString(c.Reason)
				break
			}
		}
		if !res.Success && res.Reason == "" {
			res.Reason = aws.ToString(task.StoppedReason)
		}
		results[i] = res
	}
	return results
}
