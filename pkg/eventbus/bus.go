// Package eventbus carries host transcription events from the connection that received them
// to the session that consumes them. In-process by default, Redis Streams when enabled.
package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	transcriptionTopicPrefix = "transcription."
	streamMaxLen             = 1000
	cleanupTimeout           = 5 * time.Second
)

// TranscriptionTopic is the topic for transcription events of one connection. Two
// connections presenting the same session id never share a topic.
func TranscriptionTopic(sessionID, connectionID string) string {
	return transcriptionTopicPrefix + sessionID + "." + connectionID
}

type Bus struct {
	settings  Settings
	logger    watermill.LoggerAdapter
	publisher message.Publisher
	// shared subscriber for the in-process transport; nil with Redis.
	subscriber message.Subscriber
	client     *redis.Client

	closeOnce sync.Once
}

// New builds a bus for the given settings.
func New(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.Logger)
	if !s.Enabled {
		// blocking until ack keeps per-topic delivery in publish order
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{settings: s, logger: logger, publisher: ch, subscriber: ch}, nil
	}

	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("eventbus: redis enabled without an address")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:        client,
		Marshaller:    rstream.DefaultMarshallerUnmarshaller{},
		DefaultMaxlen: streamMaxLen,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis publisher")
	}
	return &Bus{settings: s, logger: logger, publisher: pub, client: client}, nil
}

// RedisClient returns the Redis client when the Redis transport is enabled.
func (b *Bus) RedisClient() *redis.Client { return b.client }

func (b *Bus) Publish(topic string, payload []byte) error {
	if b == nil || b.publisher == nil {
		return errors.New("eventbus: not initialized")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "eventbus: publish %s", topic)
	}
	return nil
}

// Subscribe delivers messages for topic until ctx is done or release is called. Each message
// must be acked before the next one is delivered.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, func(), error) {
	if b == nil {
		return nil, nil, errors.New("eventbus: not initialized")
	}
	subCtx, cancel := context.WithCancel(ctx)

	if b.subscriber != nil {
		ch, err := b.subscriber.Subscribe(subCtx, topic)
		if err != nil {
			cancel()
			return nil, nil, errors.Wrapf(err, "eventbus: subscribe %s", topic)
		}
		return ch, cancel, nil
	}

	group := b.settings.Group + ":" + topic
	if err := b.ensureGroupAtTail(ctx, topic, group); err != nil {
		cancel()
		return nil, nil, err
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      b.settings.Consumer,
	}, b.logger)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrap(err, "eventbus: redis subscriber")
	}
	ch, err := sub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		_ = sub.Close()
		return nil, nil, errors.Wrapf(err, "eventbus: subscribe %s", topic)
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			if err := sub.Close(); err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Str("topic", topic).Msg("closing redis subscriber failed")
			}
			dctx, dcancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer dcancel()
			if err := dropStream(dctx, b.client, topic, group); err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Str("topic", topic).Msg("dropping redis stream failed")
			}
		})
	}
	return ch, release, nil
}

// ensureGroupAtTail creates the consumer group at "$" so the subscription starts with the
// next published transcription.
func (b *Bus) ensureGroupAtTail(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "eventbus: create group %s", group)
	}
	return nil
}

type streamDropper interface {
	XGroupDestroy(ctx context.Context, stream, group string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// dropStream removes the consumer group and the stream of a released subscription. Topics are
// per connection, so nobody reads the stream afterwards.
func dropStream(ctx context.Context, c streamDropper, stream, group string) error {
	if err := c.XGroupDestroy(ctx, stream, group).Err(); err != nil {
		return errors.Wrapf(err, "eventbus: destroy group %s", group)
	}
	if err := c.Del(ctx, stream).Err(); err != nil {
		return errors.Wrapf(err, "eventbus: delete stream %s", stream)
	}
	return nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var err error
	b.closeOnce.Do(func() {
		if b.publisher != nil {
			err = b.publisher.Close()
		}
		if b.client != nil {
			if cerr := b.client.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
