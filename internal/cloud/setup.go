package cloud

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	repositoryName = "medicare-lookup"
	taskRoleName   = "medicare-lookup-task-role"
)

// SetupConfig holds configuration for cloud infrastructure provisioning.
type SetupConfig struct {
	Region   string
	S3Bucket string
	Image    string // container image; defaults to the ECR repository's latest tag
}

// Setup provisions the bucket, ECR repository, ECS cluster, log group, task
// role and task definition used by cloud bulk runs. Resources that already
// exist are reported and skipped.
func Setup(ctx context.Context, cfg SetupConfig, w io.Writer) error {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	step := func(what string, fn func() error) {
		fmt.Fprintf(w, "%s...\n", what)
		if err := fn(); err != nil {
			fmt.Fprintf(w, "  May already exist: %v\n", err)
			return
		}
		fmt.Fprintln(w, "  Created.")
	}

	step("Creating S3 bucket "+cfg.S3Bucket, func() error {
		return createS3Bucket(ctx, awsCfg, cfg.S3Bucket, cfg.Region)
	})

	image := cfg.Image
	step("Creating ECR repository "+repositoryName, func() error {
		uri, err := createECRRepo(ctx, awsCfg)
		if err == nil && image == "" {
			image = uri + ":latest"
		}
		return err
	})
	if image == "" {
		image = repositoryName + ":latest"
	}

	step("Creating ECS cluster "+clusterName, func() error {
		return createECSCluster(ctx, awsCfg)
	})
	step("Creating log group "+logGroupName, func() error {
		return createLogGroup(ctx, awsCfg)
	})
	step("Creating IAM task role "+taskRoleName, func() error {
		return createTaskRole(ctx, awsCfg, cfg.S3Bucket)
	})

	fmt.Fprintln(w, "Registering ECS task definition...")
	if err := registerTaskDefinition(ctx, awsCfg, cfg.Region, image); err != nil {
		return fmt.Errorf("registering task definition: %w", err)
	}
	fmt.Fprintf(w, "  Registered %s with image %s.\n", taskFamily, image)

	fmt.Fprintln(w, "\nCloud setup complete. Next steps:")
	fmt.Fprintln(w, "  1. Build and push the image:")
	fmt.Fprintf(w, "     docker build -t %s .\n", repositoryName)
	fmt.Fprintf(w, "     aws ecr get-login-password --region %s | docker login --username AWS --password-stdin <account-id>.dkr.ecr.%s.amazonaws.com\n", cfg.Region, cfg.Region)
	fmt.Fprintf(w, "     docker tag %s:latest %s\n", repositoryName, image)
	fmt.Fprintf(w, "     docker push %s\n", image)
	fmt.Fprintf(w, "  2. Run: medicare-lookup bulk --cloud --s3-bucket %s --subnets <subnet-ids> --names-file names.txt\n", cfg.S3Bucket)

	return nil
}

func createS3Bucket(ctx context.Context, cfg aws.Config, bucket, region string) error {
	client := s3svc.NewFromConfig(cfg)

	input := &s3svc.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	if region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	_, err := client.CreateBucket(ctx, input)
	return err
}

func createECRRepo(ctx context.Context, cfg aws.Config) (string, error) {
	client := ecr.NewFromConfig(cfg)
	out, err := client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(repositoryName),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Repository.RepositoryUri), nil
}

func createECSCluster(ctx context.Context, cfg aws.Config) error {
	client := ecs.NewFromConfig(cfg)
	_, err := client.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName:       aws.String(clusterName),
		CapacityProviders: []string{"FARGATE", "FARGATE_SPOT"},
	})
	return err
}

func createLogGroup(ctx context.Context, cfg aws.Config) error {
	client := cloudwatchlogs.NewFromConfig(cfg)
	_, err := client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(logGroupName),
	})
	return err
}

func createTaskRole(ctx context.Context, cfg aws.Config, bucket string) error {
	client := iam.NewFromConfig(cfg)

	assumeRolePolicy := `{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Principal": {"Service": "ecs-tasks.amazonaws.com"},
			"Action": "sts:AssumeRole"
		}]
	}`

	_, err := client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(taskRoleName),
		AssumeRolePolicyDocument: aws.String(assumeRolePolicy),
	})
	if err != nil {
		return err
	}

	// Tasks read their name chunk and write their results.
	_, err = client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(taskRoleName),
		PolicyName:     aws.String("medicare-lookup-s3-access"),
		PolicyDocument: aws.String(TaskRolePolicy(bucket)),
	})
	if err != nil {
		return fmt.Errorf("attaching S3 policy: %w", err)
	}
	return nil
}

// TaskRolePolicy is the inline S3 policy attached to the task role.
func TaskRolePolicy(bucket string) string {
	return fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [{
			"Effect": "Allow",
			"Action": ["s3:PutObject", "s3:GetObject"],
			"Resource": "arn:aws:s3:::%s/*"
		}]
	}`, bucket)
}

func registerTaskDefinition(ctx context.Context, cfg aws.Config, region, image string) error {
	client := ecs.NewFromConfig(cfg)

	// Lookups are network bound; the smallest Fargate size is enough.
	_, err := client.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(taskFamily),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     aws.String("512"),
		Memory:                  aws.String("1024"),
		TaskRoleArn:             aws.String(taskRoleName),
		ExecutionRoleArn:        aws.String("ecsTaskExecutionRole"),
		ContainerDefinitions: []ecstypes.ContainerDefinition{
			{
				Name:      aws.String(containerName),
				Image:     aws.String(image),
				Essential: aws.Bool(true),
				Environment: []ecstypes.KeyValuePair{
					{Name: aws.String("LOG_FORMAT"), Value: aws.String("json")},
					{Name: aws.String("AWS_REGION"), Value: aws.String(region)},
				},
				LogConfiguration: &ecstypes.LogConfiguration{
					LogDriver: ecstypes.LogDriverAwslogs,
					Options: map[string]string{
						"awslogs-group":         logGroupName,
						"awslogs-region":        region,
						"awslogs-stream-prefix": logStreamPrefix,
					},
				},
			},
		},
	})

	return err
}
