package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_PublishAssignsMonotonicSequenceNumbers(t *testing.T) {
	s := NewStream("test", nil)
	s.Publish(KindEnrichmentStarted, nil)
	s.Publish(KindLayer1Complete, nil)
	s.Publish(KindLayer2Complete, nil)

	events, _ := s.drain()
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
	assert.Equal(t, uint64(3), events[2].Seq)
}

func TestStream_DrainEmptiesBuffer(t *testing.T) {
	s := NewStream("test", nil)
	s.Publish(KindEnrichmentStarted, nil)

	first, _ := s.drain()
	assert.Len(t, first, 1)

	second, _ := s.drain()
	assert.Empty(t, second)
}

func TestStream_OverflowDropsOldestAndCountsIt(t *testing.T) {
	s := NewStream("test", nil)
	for i := 0; i < bufferSize+10; i++ {
		s.Publish(KindStageStarted, map[string]any{"i": i})
	}

	events, _ := s.drain()
	assert.Len(t, events, bufferSize)
	assert.EqualValues(t, 10, s.DroppedCount())
	// the oldest 10 were evicted; the buffer should start at i=10
	assert.Equal(t, 10, events[0].Payload["i"])
}

func TestStream_PublishAfterCloseIsNoOp(t *testing.T) {
	s := NewStream("test", nil)
	s.Close()
	s.Publish(KindError, nil)

	events, closed := s.drain()
	assert.Empty(t, events)
	assert.True(t, closed)
}
