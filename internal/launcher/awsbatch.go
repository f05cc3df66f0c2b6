package launcher

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// AWSBatchLauncher submits a job to AWS Batch using the app's declared
// job queue and job definition. Unlike the local launcher, AWS Batch owns
// the process lifecycle entirely; this launcher's job ends at SubmitJob.
type AWSBatchLauncher struct {
	client *batch.Client
}

// NewAWSBatch builds an AWSBatchLauncher from the ambient AWS config
// (environment, shared config file, or instance role), scoped to region.
func NewAWSBatch(ctx context.Context, region string) (*AWSBatchLauncher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &AWSBatchLauncher{client: batch.NewFromConfig(cfg)}, nil
}

func (l *AWSBatchLauncher) Start(ctx context.Context, lctx JobLaunchContext, req StartRequest) error {
	if req.AWSBatchJobQueue == "" || req.AWSBatchJobDefinition == "" {
		return fmt.Errorf("app has no awsBatchJobQueue/awsBatchJobDefinition configured")
	}

	// AWS Batch job names must match [a-zA-Z0-9_-]{1,128}; job ids here are
	// already hex/uuid-safe strings, but guard the length regardless.
	jobName := "dendro-" + req.JobID
	if len(jobName) > 128 {
		jobName = jobName[:128]
	}

	out, err := l.client.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(jobName),
		JobQueue:      aws.String(req.AWSBatchJobQueue),
		JobDefinition: aws.String(req.AWSBatchJobDefinition),
		ContainerOverrides: &types.ContainerOverrides{
			Environment: []types.KeyValuePair{
				{Name: aws.String(EnvJobID), Value: aws.String(req.JobID)},
				{Name: aws.String(EnvJobPrivateKey), Value: aws.String(req.JobPrivateKey)},
				{Name: aws.String(EnvJobInternal), Value: aws.String("0")},
				{Name: aws.String(EnvAppExecutable), Value: aws.String(req.ExecutablePath)},
				{Name: aws.String(EnvProcessorName), Value: aws.String(req.ProcessorName)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("submit AWS Batch job for %s: %w", req.JobID, err)
	}

	log.Printf("launcher: submitted job %s to AWS Batch as %s", req.JobID, aws.ToString(out.JobArn))
	return nil
}
