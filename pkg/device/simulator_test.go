package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorUpdateFlow(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	st, err := sim.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.CurrentVersion.Equal([]byte("1")))
	assert.Nil(t, st.NextVersion)

	require.NoError(t, sim.Start(ctx, []byte("2")))
	require.NoError(t, sim.Write(ctx, 0, []byte{1, 2, 3, 4}))
	require.NoError(t, sim.Write(ctx, 4, []byte{5, 6}))

	st, err = sim.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.NextVersion)
	assert.True(t, st.NextVersion.Equal([]byte("2")))
	assert.Equal(t, uint32(6), st.NextOffset)

	require.NoError(t, sim.Update(ctx, []byte("2"), make([]byte, 32)))
	assert.Equal(t, []byte("2"), sim.Version())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, sim.Staged())

	st, err = sim.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.NextVersion)
}

func TestSimulatorRejectsGaps(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	require.NoError(t, sim.Start(ctx, []byte("2")))
	require.NoError(t, sim.Write(ctx, 0, []byte{1, 2}))
	assert.Error(t, sim.Write(ctx, 4, []byte{3}))
	assert.Error(t, sim.Write(ctx, 1, []byte{3}))
}

func TestSimulatorWriteBeforeStart(t *testing.T) {
	sim := NewSimulator([]byte("1"))
	assert.Error(t, sim.Write(context.Background(), 0, []byte{1}))
}

func TestSimulatorRestartDiscardsStaged(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	require.NoError(t, sim.Start(ctx, []byte("2")))
	require.NoError(t, sim.Write(ctx, 0, []byte{1, 2, 3}))
	require.NoError(t, sim.Start(ctx, []byte("3")))

	st, err := sim.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.NextOffset)
	require.NotNil(t, st.NextVersion)
	assert.True(t, st.NextVersion.Equal([]byte("3")))
}

func TestSimulatorUpdateVersionMismatch(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	require.NoError(t, sim.Start(ctx, []byte("2")))
	assert.Error(t, sim.Update(ctx, []byte("3"), nil))
}

func TestSimulatorCapacity(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator([]byte("1"))

	require.NoError(t, sim.Start(ctx, []byte("2")))
	assert.Error(t, sim.Write(ctx, 0, make([]byte, DefaultSimulatorCapacity+1)))
}
