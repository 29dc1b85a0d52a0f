// Package aws provides an AWS SNS/SQS transport. Topics map to SNS topics and
// each process drains its own SQS queues subscribed to them, so every
// dashboard sees every message.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/widgetbus/internal/runtime/ids"
	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// LocalStack accepts any 12 digit account; this is the one it documents.
const localstackAccountID = "000000000000"

// Test seams.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver
	PublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

// QueueSuffix distinguishes this process's SQS queues. Defaults to a ULID.
var QueueSuffix = func() string {
	return strings.ToLower(ids.CreateULID())
}

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// TopicName turns "/robot/speed" into the SNS topic "robot-speed".
func TopicName(t transport.Topic) string {
	return snsSafe(pubsub.DefaultTopicName(t))
}

// ServiceName turns "/robot/reset" into the SNS topic "srv-robot-reset".
func ServiceName(s transport.Service) string {
	return snsSafe(pubsub.DefaultServiceName(s))
}

// SNS topic names allow letters, digits, hyphens and underscores.
func snsSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

// settings is the AWS slice of transport.Config with defaults applied.
type settings struct {
	region    string
	accountID string
	accessKey string
	secretKey string
	endpoint  *url.URL
}

func readSettings(cfg transport.Config) (settings, error) {
	if cfg == nil {
		return settings{}, nil
	}
	s := settings{
		region:    cfg.GetAWSRegion(),
		accountID: strings.Trim(cfg.GetAWSAccountID(), "\"' "),
		accessKey: cfg.GetAWSAccessKeyID(),
		secretKey: cfg.GetAWSSecretAccessKey(),
	}
	if raw := cfg.GetAWSEndpoint(); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return settings{}, fmt.Errorf("parse aws endpoint: %w", err)
		}
		s.endpoint = u
	}
	return s, nil
}

// resolve fills the region from the loaded SDK config and substitutes the
// LocalStack account when a custom endpoint is used without a valid one.
func (s settings) resolve(loadedRegion string, logger watermill.LoggerAdapter) settings {
	if s.region == "" {
		s.region = loadedRegion
	}
	if s.endpoint != nil && len(s.accountID) != len(localstackAccountID) {
		logger.Info("Using LocalStack account id", watermill.LogFields{"configured": s.accountID})
		s.accountID = localstackAccountID
	}
	return s
}

func (s settings) loadOptions() []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}
	if s.accessKey != "" && s.secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: s.accessKey, SecretAccessKey: s.secretKey}, nil
			})))
	}
	return opts
}

func (s settings) snsOptions() []func(*amazonsns.Options) {
	if s.endpoint == nil {
		return nil
	}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *s.endpoint},
		}),
	}
}

func (s settings) sqsOptions() []func(*amazonsqs.Options) {
	if s.endpoint == nil {
		return nil
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *s.endpoint},
		}),
	}
}

// Build creates a new AWS SNS/SQS client.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Client, error) {
	s, err := readSettings(cfg)
	if err != nil {
		return nil, err
	}

	awsCfg, err := DefaultConfigLoader(ctx, s.loadOptions()...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": s.region})
		return nil, err
	}
	s = s.resolve(awsCfg.Region, logger)
	awsCfg.Region = s.region
	logger.Info("Connecting AWS transport", watermill.LogFields{
		"region":          s.region,
		"account_id":      s.accountID,
		"custom_endpoint": s.endpoint != nil,
	})

	resolver, err := TopicResolverFactory(s.accountID, s.region)
	if err != nil {
		return nil, fmt.Errorf("sns topic resolver: %w", err)
	}

	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     awsCfg,
		OptFns:        s.snsOptions(),
		TopicResolver: resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            awsCfg,
			OptFns:               s.snsOptions(),
			TopicResolver:        resolver,
			GenerateSqsQueueName: queueNamer(QueueSuffix()),
		},
		sqs.SubscriberConfig{AWSConfig: awsCfg, OptFns: s.sqsOptions()},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	client, err := pubsub.Wrap(
		transport.Transport{Publisher: publisher, Subscriber: subscriber},
		cfg,
		logger,
		transport.AWSCapabilities,
		func(o *pubsub.Options) {
			o.TopicName = TopicName
			o.ServiceName = ServiceName
			o.ReplyTopic = "srv-reply-" + strings.ToLower(ids.CreateULID())
		},
	)
	if err != nil {
		_ = publisher.Close()
		_ = subscriber.Close()
		return nil, err
	}
	return client, nil
}

// queueNamer names the SQS queue for an SNS topic after the topic plus a
// per-process suffix.
func queueNamer(suffix string) func(context.Context, sns.TopicArn) (string, error) {
	return func(_ context.Context, arn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(arn)
		if err != nil {
			return "", err
		}
		return string(topic) + "-" + suffix, nil
	}
}
