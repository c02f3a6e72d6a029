package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSONWithEventAttribute(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	pub, err := New(client, "runs")
	require.NoError(t, err)
	defer pub.Close()

	id, err := pub.Publish(context.Background(), "scrape.completed", map[string]int{"inserted": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "scrape.completed", msgs[0].Attributes[EventAttribute])
	var body map[string]int
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, 3, body["inserted"])
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	pub, err := New(client, "runs")
	require.NoError(t, err)
	defer pub.Close()

	_, err = pub.Publish(context.Background(), "x", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "runs")
	require.Error(t, err)

	client, _ := newTestClient(t)
	_, err = New(client, "")
	require.Error(t, err)

	var nilPub *Publisher
	_, err = nilPub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
	require.NoError(t, nilPub.Close())
}
