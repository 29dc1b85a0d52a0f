package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/widgetbus/transport"
	"github.com/drblury/widgetbus/transport/pubsub"
	"github.com/drblury/widgetbus/transport/transporttest"
)

type fakeAWS struct {
	loadErr error
	pubErr  error
	subErr  error

	pub *transporttest.MockPublisher
	sub *transporttest.MockSubscriber

	resolverAccount string
	resolverRegion  string
	pubCfg          sns.PublisherConfig
	subCfg          sns.SubscriberConfig
	sqsCfg          sqs.SubscriberConfig
}

// install swaps every SDK seam for the duration of the test.
func (f *fakeAWS) install(t *testing.T) {
	t.Helper()
	loader, resolver, pubFactory, subFactory, suffix := DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory, QueueSuffix
	t.Cleanup(func() {
		DefaultConfigLoader, TopicResolverFactory, PublisherFactory, SubscriberFactory, QueueSuffix = loader, resolver, pubFactory, subFactory, suffix
	})

	f.pub = &transporttest.MockPublisher{}
	f.sub = &transporttest.MockSubscriber{}
	DefaultConfigLoader = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		if f.loadErr != nil {
			return aws.Config{}, f.loadErr
		}
		return aws.Config{Region: "eu-central-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		f.resolverAccount, f.resolverRegion = accountID, region
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		f.pubCfg = cfg
		if f.pubErr != nil {
			return nil, f.pubErr
		}
		return f.pub, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		f.subCfg, f.sqsCfg = cfg, sqsCfg
		if f.subErr != nil {
			return nil, f.subErr
		}
		return f.sub, nil
	}
	QueueSuffix = func() string { return "dash1" }
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.Equal(t, int64(256*1024), caps.MaxMessageSize)
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "robot-speed", TopicName(transport.Topic{Name: "/robot/speed"}))
	assert.Equal(t, "srv-robot-reset", ServiceName(transport.Service{Name: "/robot/reset"}))
	assert.Equal(t, "arm_1-joint-state", TopicName(transport.Topic{Name: "/arm_1/joint.state"}))
}

func TestQueueNamer(t *testing.T) {
	name, err := queueNamer("host1")(context.Background(), sns.TopicArn("arn:aws:sns:us-east-1:123456789012:robot-speed"))
	require.NoError(t, err)
	assert.Equal(t, "robot-speed-host1", name)
}

func TestBuild_WiresPublisherAndSubscriber(t *testing.T) {
	f := &fakeAWS{}
	f.install(t)

	client, err := Build(context.Background(), &transporttest.Config{AWSAccountID: "123456789012"}, watermill.NopLogger{})
	require.NoError(t, err)

	pc := client.(*pubsub.Client)
	assert.Same(t, f.pub, pc.Transport().Publisher)
	assert.Same(t, f.sub, pc.Transport().Subscriber)
	assert.Regexp(t, `^srv-reply-[0-9a-z]{26}$`, pc.ReplyTopic())
	assert.Equal(t, "123456789012", f.resolverAccount)
	assert.Equal(t, "eu-central-1", f.resolverRegion, "region falls back to the loaded SDK config")
	assert.Empty(t, f.pubCfg.OptFns)
	assert.Empty(t, f.sqsCfg.OptFns)

	queue, err := f.subCfg.GenerateSqsQueueName(context.Background(), sns.TopicArn("arn:aws:sns:eu-central-1:123456789012:robot-speed"))
	require.NoError(t, err)
	assert.Equal(t, "robot-speed-dash1", queue)

	require.NoError(t, client.Publish(context.Background(), transport.Topic{Name: "/robot/speed"}, 1))
	assert.Equal(t, []string{"robot-speed"}, f.pub.Topics)
}

func TestBuild_LocalStackEndpoint(t *testing.T) {
	f := &fakeAWS{}
	f.install(t)

	_, err := Build(context.Background(), &transporttest.Config{
		AWSRegion:   "us-east-1",
		AWSEndpoint: "http://localhost:4566",
	}, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, localstackAccountID, f.resolverAccount)
	assert.Equal(t, "us-east-1", f.resolverRegion)
	assert.Len(t, f.pubCfg.OptFns, 1)
	assert.Len(t, f.subCfg.OptFns, 1)
	assert.Len(t, f.sqsCfg.OptFns, 1)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeAWS
		cfg  *transporttest.Config
		want string
	}{
		{"config loader", &fakeAWS{loadErr: errors.New("config error")}, &transporttest.Config{}, "config error"},
		{"publisher", &fakeAWS{pubErr: errors.New("publisher error")}, &transporttest.Config{}, "publisher error"},
		{"subscriber", &fakeAWS{subErr: errors.New("subscriber error")}, &transporttest.Config{}, "subscriber error"},
		{"endpoint", &fakeAWS{}, &transporttest.Config{AWSEndpoint: "://bad"}, "parse aws endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fake.install(t)
			_, err := Build(context.Background(), tt.cfg, watermill.NopLogger{})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestBuild_ClosesPublisherWhenSubscriberFails(t *testing.T) {
	f := &fakeAWS{subErr: errors.New("subscriber error")}
	f.install(t)

	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.Error(t, err)
	assert.True(t, f.pub.Closed)
}

func TestSettings(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		s, err := readSettings(nil)
		require.NoError(t, err)
		assert.Equal(t, settings{}, s)
	})

	t.Run("trims quoted account id", func(t *testing.T) {
		s, err := readSettings(&transporttest.Config{AWSAccountID: `"123456789012"`})
		require.NoError(t, err)
		assert.Equal(t, "123456789012", s.accountID)
	})

	t.Run("keeps a valid account with an endpoint", func(t *testing.T) {
		s, err := readSettings(&transporttest.Config{AWSAccountID: "123456789012", AWSEndpoint: "http://localhost:4566"})
		require.NoError(t, err)
		s = s.resolve("us-east-1", watermill.NopLogger{})
		assert.Equal(t, "123456789012", s.accountID)
		assert.Equal(t, "localhost:4566", s.endpoint.Host)
	})

	t.Run("static credentials only when both keys are set", func(t *testing.T) {
		assert.Len(t, settings{region: "us-east-1", accessKey: "id"}.loadOptions(), 1)
		assert.Len(t, settings{region: "us-east-1", accessKey: "id", secretKey: "secret"}.loadOptions(), 2)
	})
}
