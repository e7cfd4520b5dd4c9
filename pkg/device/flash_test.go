package device

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlashUpdateFlow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	flash, err := OpenFlash(dir)
	require.NoError(t, err)
	defer flash.Close()

	image := []byte("new firmware image contents")
	sum := sha256.Sum256(image)

	require.NoError(t, flash.Start(ctx, []byte("2")))
	require.NoError(t, flash.Write(ctx, 0, image[:10]))
	require.NoError(t, flash.Write(ctx, 10, image[10:]))
	require.NoError(t, flash.Update(ctx, []byte("2"), sum[:]))

	assert.Equal(t, []byte("2"), flash.Version())

	installed, err := os.ReadFile(filepath.Join(dir, "firmware.bin"))
	require.NoError(t, err)
	assert.Equal(t, image, installed)
}

func TestFlashResumesAfterReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	flash, err := OpenFlash(dir)
	require.NoError(t, err)
	require.NoError(t, flash.Start(ctx, []byte("2")))
	require.NoError(t, flash.Write(ctx, 0, make([]byte, 512)))
	require.NoError(t, flash.Close())

	flash, err = OpenFlash(dir)
	require.NoError(t, err)
	defer flash.Close()

	st, err := flash.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(512), st.NextOffset)
	require.NotNil(t, st.NextVersion)
	assert.True(t, st.NextVersion.Equal([]byte("2")))

	// Writing continues where the previous process stopped.
	require.NoError(t, flash.Write(ctx, 512, make([]byte, 100)))
}

func TestFlashCurrentVersionPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	flash, err := OpenFlash(dir)
	require.NoError(t, err)
	require.NoError(t, flash.Start(ctx, []byte("7")))
	require.NoError(t, flash.Write(ctx, 0, []byte("fw")))
	require.NoError(t, flash.Update(ctx, []byte("7"), nil))
	require.NoError(t, flash.Close())

	flash, err = OpenFlash(dir)
	require.NoError(t, err)
	defer flash.Close()
	assert.Equal(t, []byte("7"), flash.Version())

	st, err := flash.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.NextVersion)
}

func TestFlashChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	flash, err := OpenFlash(t.TempDir())
	require.NoError(t, err)
	defer flash.Close()

	require.NoError(t, flash.Start(ctx, []byte("2")))
	require.NoError(t, flash.Write(ctx, 0, []byte("image")))

	bogus := make([]byte, sha256.Size)
	bogus[0] = 1
	assert.Error(t, flash.Update(ctx, []byte("2"), bogus))
}

// An all-zero checksum is the reference service's placeholder and is
// accepted unverified.
func TestFlashZeroChecksumAccepted(t *testing.T) {
	ctx := context.Background()
	flash, err := OpenFlash(t.TempDir())
	require.NoError(t, err)
	defer flash.Close()

	require.NoError(t, flash.Start(ctx, []byte("2")))
	require.NoError(t, flash.Write(ctx, 0, []byte("image")))
	require.NoError(t, flash.Update(ctx, []byte("2"), make([]byte, 32)))
	assert.Equal(t, []byte("2"), flash.Version())
}

func TestFlashRejectsWrongOffset(t *testing.T) {
	ctx := context.Background()
	flash, err := OpenFlash(t.TempDir())
	require.NoError(t, err)
	defer flash.Close()

	require.NoError(t, flash.Start(ctx, []byte("2")))
	require.NoError(t, flash.Write(ctx, 0, make([]byte, 16)))
	assert.Error(t, flash.Write(ctx, 32, make([]byte, 16)))
}

func TestFlashDirectoryLocked(t *testing.T) {
	dir := t.TempDir()
	flash, err := OpenFlash(dir)
	require.NoError(t, err)
	defer flash.Close()

	_, err = OpenFlash(dir)
	assert.Error(t, err)
}

func TestFlashStartDiscardsStaged(t *testing.T) {
	ctx := context.Background()
	flash, err := OpenFlash(t.TempDir())
	require.NoError(t, err)
	defer flash.Close()

	require.NoError(t, flash.Start(ctx, []byte("2")))
	require.NoError(t, flash.Write(ctx, 0, []byte("old partial")))
	require.NoError(t, flash.Start(ctx, []byte("3")))

	st, err := flash.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.NextOffset)
	require.NotNil(t, st.NextVersion)
	assert.True(t, st.NextVersion.Equal([]byte("3")))
}
