package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
)

const (
	logGroupName    = "/ecs/medicare-lookup"
	logStreamPrefix = "ecs"
)

// LogStreamer tails CloudWatch logs of bulk lookup tasks.
type LogStreamer struct {
	client   *cloudwatchlogs.Client
	interval time.Duration
}

func NewLogStreamer(ctx context.Context, region string) (*LogStreamer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &LogStreamer{client: cloudwatchlogs.NewFromConfig(cfg), interval: 3 * time.Second}, nil
}

// TaskIDFromARN extracts the task ID from an ECS task ARN of the form
// arn:aws:ecs:region:account:task/cluster/task-id.
func TaskIDFromARN(arn string) string {
	parts := strings.Split(arn, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-1]
	}
	return arn
}

// LogStreamName is the awslogs stream for a task: {prefix}/{container}/{task-id}.
func LogStreamName(taskARN string) string {
	return fmt.Sprintf("%s/%s/%s", logStreamPrefix, containerName, TaskIDFromARN(taskARN))
}

// StreamLogs calls onLog for each new line of the task's log stream until ctx
// is cancelled.
func (s *LogStreamer) StreamLogs(ctx context.Context, taskARN string, onLog func(line string)) {
	streamName := LogStreamName(taskARN)
	var nextToken *string

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}

		input := &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(logGroupName),
			LogStreamName: aws.String(streamName),
			StartFromHead: aws.Bool(true),
			NextToken:     nextToken,
		}

		resp, err := s.client.GetLogEvents(ctx, input)
		if err != nil {
			// The stream does not exist until the container starts.
			continue
		}

		for _, event := range resp.Events {
			if event.Message != nil {
				onLog(strings.TrimRight(*event.Message, "\n"))
			}
		}
		if resp.NextForwardToken != nil {
			nextToken = resp.NextForwardToken
		}
	}
}
