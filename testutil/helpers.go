package testutil

import (
	"testing"

	"github.com/anthropics/purple-dfu/pkg/update"
)

// MakeFirmware creates a deterministic firmware image of the given size.
func MakeFirmware(size int) []byte {
	fw := make([]byte, size)
	for i := range fw {
		fw[i] = byte(i % 251)
	}
	return fw
}

// MustVersion converts a byte string to a bounded version, failing the test
// on overflow.
func MustVersion(t *testing.T, data []byte) update.Version {
	t.Helper()
	v, err := update.VersionFromSlice(data)
	if err != nil {
		t.Fatalf("version %q: %v", data, err)
	}
	return v
}
