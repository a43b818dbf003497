package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badaboda/mochevent/internal/runtime/config"
	"github.com/badaboda/mochevent/transport"
	"github.com/badaboda/mochevent/transport/transporttest"
)

func testConfig() *config.Config {
	cfg := config.Config{
		Backend:           TransportName,
		HTTPServerAddress: ":0",
		HTTPPublisherURL:  "http://backend:9000/",
	}.WithDefaults()
	return &cfg
}

type startingSubscriber struct {
	*transporttest.Subscriber
	started chan struct{}
}

func (s *startingSubscriber) StartHTTPServer() error {
	close(s.started)
	return nil
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("posts to publisher URL and starts the reply listener", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		var marshal func(topic string, msg *message.Message) (*nethttp.Request, error)
		PublisherFactory = func(cfg watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			marshal = cfg.MarshalMessageFunc
			return &transporttest.Publisher{}, nil
		}
		sub := &startingSubscriber{Subscriber: transporttest.NewSubscriber(1), started: make(chan struct{})}
		SubscriberFactory = func(addr string, cfg watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, ":0", addr)
			return sub, nil
		}

		link, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
		require.NoError(t, err)
		defer link.Close()

		select {
		case <-sub.started:
		case <-time.After(time.Second):
			t.Fatal("reply listener not started")
		}
		assert.Equal(t, []string{config.DefaultReplyTopic}, sub.Topics())

		req, err := marshal(config.DefaultRequestTopic, message.NewMessage("u", []byte("frame")))
		require.NoError(t, err)
		assert.Equal(t, "http://backend:9000/"+config.DefaultRequestTopic, req.URL.String())
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "frame", string(body))
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(cfg watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
		assert.EqualError(t, err, "publisher error")
	})
}
