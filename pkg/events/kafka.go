package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kversion"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/aws"
)

const (
	defaultClientID = "huntql"
	defaultLinger   = 100 * time.Millisecond
)

var ErrBrokersRequired = errors.New("brokers are required")

type KafkaConfig struct {
	Brokers  []string
	ClientID string
	// AuthIAM enables MSK IAM authentication over TLS with credentials from
	// the default AWS chain.
	AuthIAM bool
	Linger  time.Duration
}

func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrBrokersRequired
	}
	if c.ClientID == "" {
		c.ClientID = defaultClientID
	}
	if c.Linger <= 0 {
		c.Linger = defaultLinger
	}
	return nil
}

// Kafka is a producer-only franz-go client. Session events are small and
// rare, so records are compressed and acknowledged by every in-sync replica.
type Kafka struct {
	client *kgo.Client
}

func NewKafka(ctx context.Context, cfg *KafkaConfig) (*Kafka, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	opts, err := producerOpts(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Kafka{client: client}, nil
}

func producerOpts(ctx context.Context, cfg *KafkaConfig) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.ZstdCompression(), kgo.SnappyCompression()),
		kgo.ProducerLinger(cfg.Linger),
		kgo.MaxVersions(kversion.V2_8_0()),
	}
	if !cfg.AuthIAM {
		return opts, nil
	}

	mechanism, err := iamMechanism(ctx)
	if err != nil {
		return nil, err
	}
	return append(opts, kgo.SASL(mechanism), kgo.DialTLS()), nil
}

func iamMechanism(ctx context.Context) (sasl.Mechanism, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return aws.ManagedStreamingIAM(func(ctx context.Context) (aws.Auth, error) {
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil {
			return aws.Auth{}, fmt.Errorf("failed to retrieve aws credentials: %w", err)
		}
		return aws.Auth{
			AccessKey:    creds.AccessKeyID,
			SecretKey:    creds.SecretAccessKey,
			SessionToken: creds.SessionToken,
		}, nil
	}), nil
}

func (k *Kafka) Close() {
	k.client.Close()
}

func (k *Kafka) Produce(ctx context.Context, record *kgo.Record, fn func(*kgo.Record, error)) {
	k.client.Produce(ctx, record, fn)
}

// Flush blocks until every buffered record is acknowledged or ctx ends.
func (k *Kafka) Flush(ctx context.Context) error {
	return k.client.Flush(ctx)
}

// Ping reports whether any seed broker is reachable.
func (k *Kafka) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

// EnsureTopic creates topic unless it already exists.
func (k *Kafka) EnsureTopic(ctx context.Context, topic string, partitions, replication int) error {
	resp, err := kadm.NewClient(k.client).CreateTopic(ctx, int32(partitions), int16(replication), nil, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}
