//go:build integration

package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"verity/internal/audit/models"
	"verity/pkg/testutil/containers"
)

func TestRedisSinkIntegration(t *testing.T) {
	rc := containers.NewRedisContainer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const channel = "verity:feed"
	sub := rc.Client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx) // wait for the subscription confirmation
	require.NoError(t, err)

	recorder := New(slog.Default(), WithSink(NewRedisSink(rc.Client, channel)))
	recorder.Publish("AUDIT-B-001",
		models.NewLogEntry(models.StageCorrelator, "SCAN_INITIATED", "pass 1", models.LogInfo),
		models.NewLogEntry(models.StageCorrelator, "SCAN_COMPLETE", "4 findings", models.LogInfo),
	)
	recorder.Close()

	ch := sub.Channel()
	var actions []string
	for len(actions) < 2 {
		select {
		case msg := <-ch:
			var event Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
			require.Equal(t, "AUDIT-B-001", event.AuditID)
			actions = append(actions, event.Entry.Action)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for feed events, got %v", actions)
		}
	}
	require.Equal(t, []string{"SCAN_INITIATED", "SCAN_COMPLETE"}, actions)
}

func TestKafkaSinkIntegration(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)

	const topic = "verity.audit.feed"
	rp.CreateTopic(t, topic)

	producer, err := NewKafkaClient([]string{rp.Broker})
	require.NoError(t, err)

	sink := NewKafkaSink(producer, topic)
	defer sink.Close()

	recorder := New(slog.Default(), WithSink(sink))
	recorder.Publish("AUDIT-B-002",
		models.NewLogEntry(models.StageRegulatory, "COMPLIANCE_VERDICT", "NON_COMPLIANT", models.LogWarning),
	)
	recorder.Close()

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, "AUDIT-B-002", string(records[0].Key))

	var event Event
	require.NoError(t, json.Unmarshal(records[0].Value, &event))
	require.Equal(t, "COMPLIANCE_VERDICT", event.Entry.Action)
	require.Equal(t, models.LogWarning, event.Entry.Severity)
}
