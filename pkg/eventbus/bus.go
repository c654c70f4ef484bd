package eventbus

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings selects the transport for the frame bus between the connection
// manager and the streaming reducer.
type Settings struct {
	RedisEnabled  bool   `mapstructure:"redis-enabled"`
	RedisAddr     string `mapstructure:"redis-addr"`
	RedisGroup    string `mapstructure:"redis-group"`
	RedisConsumer string `mapstructure:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		RedisAddr:     "localhost:6379",
		RedisGroup:    "parley",
		RedisConsumer: "client-1",
	}
}

// Bus is a publisher/subscriber pair. With the default in-memory transport
// both sides are the same gochannel instance.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Build constructs the bus: in-memory gochannel by default, Redis Streams
// when enabled (multi-process fan-out of the same frame stream).
func Build(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.Logger)

	if !s.RedisEnabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &Bus{Publisher: ch, Subscriber: ch}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.RedisGroup,
		Consumer:      s.RedisConsumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	return &Bus{Publisher: pub, Subscriber: sub}, nil
}

// Close shuts down both sides. With gochannel they are one value, so the
// second close is skipped.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	err := b.Publisher.Close()
	if any(b.Subscriber) == any(b.Publisher) {
		return err
	}
	if cerr := b.Subscriber.Close(); err == nil {
		err = cerr
	}
	return err
}
