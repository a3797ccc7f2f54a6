package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

func TestPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

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

	_, err = client.CreateTopic(ctx, "similarity-jobs")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(pub.Close)

	id, err := pub.Publish(ctx, "similarity-jobs", sheetsim.FinishedEvent{
		JobID:  "a1b2c3d4",
		Status: sheetsim.JobStatusCompleted,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got sheetsim.FinishedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "a1b2c3d4", got.JobID)
	require.Equal(t, sheetsim.JobStatusCompleted, got.Status)
}

func TestPublisherValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "topic", "x")
	require.ErrorContains(t, err, "not configured")

	_, err = (&Publisher{client: &pubsub.Client{}, topics: map[string]*pubsub.Topic{}}).Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")
}

func TestCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
