package awsd

import (
	"context"
	stderrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"ec2inventory/awsd/models"
	"ec2inventory/configuration"
	"ec2inventory/errors"
)

const (
	packageName = "awsd"

	// assumeRoleSessionName identifies assume-role sessions opened by
	// this tool in CloudTrail.
	assumeRoleSessionName = "ansible-dyInv"
)

// EC2API is the subset of the EC2 client the fetcher uses
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// AwsClient wraps region-scoped EC2 clients built from one credential
// resolution.
type AwsClient struct {
	cfg      aws.Config
	settings *configuration.Settings
	clients  map[string]EC2API

	// newClient builds a regional EC2 client; replaced in tests.
	newClient func(cfg aws.Config) EC2API
}

// NewAWSClient resolves credentials and returns a client ready to
// query the configured regions. The credential order follows the
// inventory contract: static keys from the config file, then a named
// shared-config profile, then an assumed IAM role, then the SDK
// default chain.
func NewAWSClient(ctx context.Context, settings *configuration.Settings) (*AwsClient, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "NewAWSClient"),
	)

	var opts []func(*config.LoadOptions) error

	switch {
	case settings.Credentials.AccessKeyID != "" && settings.Credentials.SecretAccessKey != "":
		logger.Info("Using static credentials from config file",
			zap.String("operation", "credential_resolution"),
		)
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				settings.Credentials.AccessKeyID,
				settings.Credentials.SecretAccessKey,
				settings.Credentials.SecurityToken,
			),
		))
	case settings.Profile != "":
		logger.Info("Using shared config profile",
			zap.String("operation", "credential_resolution"),
			zap.String("profile", settings.Profile),
		)
		opts = append(opts, config.WithSharedConfigProfile(settings.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.New(errors.ErrAWSClient, "failed to load AWS config",
			map[string]interface{}{
				"profile": settings.Profile,
			}, err)
	}

	// Assume-role only applies when no explicit credentials or profile
	// are in play.
	if settings.IAMAssumeRole != "" && settings.Profile == "" &&
		settings.Credentials.AccessKeyID == "" {
		region := stsRegion(ctx, firstRegion(settings.Regions))
		stsCfg := cfg.Copy()
		stsCfg.Region = region
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(stsCfg), settings.IAMAssumeRole,
			func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = assumeRoleSessionName
			})
		cfg.Credentials = aws.NewCredentialsCache(provider)
		logger.Info("Using assumed IAM role",
			zap.String("operation", "credential_resolution"),
			zap.String("role_arn", settings.IAMAssumeRole),
			zap.String("sts_region", region),
		)
	}

	client := NewAWSClientWithConfig(cfg)
	client.settings = settings
	return client, nil
}

// NewAWSClientWithConfig builds a client from an already resolved AWS
// config.
func NewAWSClientWithConfig(cfg aws.Config) *AwsClient {
	return &AwsClient{
		cfg:     cfg,
		clients: make(map[string]EC2API),
		newClient: func(cfg aws.Config) EC2API {
			return ec2.NewFromConfig(cfg)
		},
	}
}

// regional returns the EC2 client for a region, building it on first
// use.
func (c *AwsClient) regional(region string) EC2API {
	if client, ok := c.clients[region]; ok {
		return client
	}
	cfg := c.cfg.Copy()
	cfg.Region = region
	client := c.newClient(cfg)
	c.clients[region] = client
	return client
}

// FetchInstances queries DescribeInstances in every configured region
// and returns the concatenated instance list plus the owning account
// id, taken from the first reservation of the first non-empty
// response. Any provider error aborts the fetch; there is no partial
// result.
func (c *AwsClient) FetchInstances(ctx context.Context) ([]*models.Instance, string, error) {
	logger := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "FetchInstances"),
	)

	input := &ec2.DescribeInstancesInput{}
	if len(c.settings.InstanceFilters) > 0 {
		for _, filter := range c.settings.InstanceFilters {
			input.Filters = append(input.Filters, types.Filter{
				Name:   aws.String(filter.Name),
				Values: filter.Values,
			})
		}
	}

	var instances []*models.Instance
	var accountID string

	for _, region := range c.settings.Regions {
		client := c.regional(region)

		regionInput := *input
		paginator := ec2.NewDescribeInstancesPaginator(client, &regionInput)
		for paginator.HasMorePages() {
			output, err := paginator.NextPage(ctx)
			if err != nil {
				var apiErr smithy.APIError
				if stderrors.As(err, &apiErr) {
					logger.Error("DescribeInstances failed",
						zap.String("operation", "describe_instances"),
						zap.String("region", region),
						zap.String("error_code", apiErr.ErrorCode()),
					)
				}
				return nil, "", errors.New(errors.ErrAWSFetch, "DescribeInstances failed",
					map[string]interface{}{
						"region": region,
					}, err)
			}

			if accountID == "" && len(output.Reservations) > 0 {
				accountID = aws.ToString(output.Reservations[0].OwnerId)
			}

			for _, reservation := range output.Reservations {
				for _, raw := range reservation.Instances {
					instance, err := models.NewInstance(region, raw)
					if err != nil {
						return nil, "", errors.New(errors.ErrAWSFetch, "failed to decode instance record",
							map[string]interface{}{
								"region":      region,
								"instance_id": aws.ToString(raw.InstanceId),
							}, err)
					}
					instances = append(instances, instance)
				}
			}
		}

		logger.Info("Region fetched",
			zap.String("operation", "describe_instances"),
			zap.String("region", region),
		)
	}

	logger.Info("Fetch complete",
		zap.String("operation", "describe_instances"),
		zap.Int("instances", len(instances)),
		zap.String("account_id", accountID),
	)
	return instances, accountID, nil
}

// GetInstance looks up a single instance by id in one region. Returns
// nil when the instance no longer exists.
func (c *AwsClient) GetInstance(ctx context.Context, region, instanceID string) (*models.Instance, error) {
	client := c.regional(region)

	output, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, errors.New(errors.ErrAWSFetch, "DescribeInstances failed",
			map[string]interface{}{
				"region":      region,
				"instance_id": instanceID,
			}, err)
	}

	for _, reservation := range output.Reservations {
		for _, raw := range reservation.Instances {
			return models.NewInstance(region, raw)
		}
	}
	return nil, nil
}

// stsRegion picks the region for the STS assume-role call from
// instance metadata, falling back when not running on EC2.
func stsRegion(ctx context.Context, fallback string) string {
	client := imds.New(imds.Options{})
	output, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil || output.Region == "" {
		return fallback
	}
	return output.Region
}

func firstRegion(regions []string) string {
	if len(regions) == 0 {
		return "us-east-1"
	}
	return regions[0]
}
