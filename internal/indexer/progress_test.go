package indexer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	topics   []string
	payloads [][]byte
}

func (c *capturingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload)
	return nil
}

func TestProgressMirrorsPerStageTopics(t *testing.T) {
	bus := &capturingPublisher{}
	p := NewProgress(bus)
	ctx := context.Background()

	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusProcessing})
	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusProgress, Percent: 50})
	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusProcessed, Percent: 100, Done: true})

	require.Equal(t, []string{
		TopicFileProcessing,
		TopicFileProgress,
		TopicFileProcessed,
	}, bus.topics)

	var last ProgressEvent
	require.NoError(t, json.Unmarshal(bus.payloads[2], &last))
	assert.Equal(t, "a", last.CmsPath)
	assert.True(t, last.Done)
}

func TestProgressTerminalStatesLandOnProcessedTopic(t *testing.T) {
	bus := &capturingPublisher{}
	p := NewProgress(bus)
	ctx := context.Background()

	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusLimit, Done: true})
	p.Reset("t", "a")
	p.Emit(ctx, ProgressEvent{Tenant: "t", CmsPath: "a", Status: StatusError, Done: true})

	assert.Equal(t, []string{TopicFileProcessed, TopicFileProcessed}, bus.topics)
}
