package devserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentdev/pkg/logx"
)

func TestRunStreaming_ForwardsOutputAsSystemEvents(t *testing.T) {
	sink := &eventSink{}
	s, _ := newTestServer(t, &fakeVariant{}, sink)

	err := s.runStreaming(context.Background(), "", nil,
		"sh", "-c", "echo building layer; echo fetching base >&2")
	require.NoError(t, err)

	// stdout and stderr are drained concurrently, so order across the two
	// streams is not fixed.
	assert.ElementsMatch(t, []string{"building layer", "fetching base"},
		sink.messagesAt(logx.LevelSystem))
	assert.Len(t, sink.all(), 2, "no events at other levels")
}

func TestRunStreaming_SkipsBlankLines(t *testing.T) {
	sink := &eventSink{}
	s, _ := newTestServer(t, &fakeVariant{}, sink)

	err := s.runStreaming(context.Background(), "", nil,
		"sh", "-c", "echo step one; echo; echo '   '; echo step two")
	require.NoError(t, err)

	assert.Equal(t, []string{"step one", "step two"}, sink.messagesAt(logx.LevelSystem))
}

func TestRunStreaming_NonZeroExitReturnsError(t *testing.T) {
	sink := &eventSink{}
	s, _ := newTestServer(t, &fakeVariant{}, sink)

	err := s.runStreaming(context.Background(), "", nil,
		"sh", "-c", "echo partial progress; exit 3")
	require.Error(t, err)

	// Output emitted before the failure still reaches the sink.
	assert.Equal(t, []string{"partial progress"}, sink.messagesAt(logx.LevelSystem))
}
