package main

import (
	"github.com/gyeh/medicare-lookup/internal/cloud"
	"github.com/spf13/cobra"
)

func newCloudSetupCmd() *cobra.Command {
	var (
		region   string
		s3Bucket string
		image    string
	)

	cmd := &cobra.Command{
		Use:   "cloud-setup",
		Short: "Provision AWS infrastructure for Fargate bulk lookups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cloud.Setup(cmd.Context(), cloud.SetupConfig{
				Region:   region,
				S3Bucket: s3Bucket,
				Image:    image,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&region, "region", "us-east-1", "AWS region")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket for name chunks and results")
	cmd.Flags().StringVar(&image, "image", "", "Container image (default: the ECR repository's latest tag)")
	cmd.MarkFlagRequired("s3-bucket")

	return cmd
}
