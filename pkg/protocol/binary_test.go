package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		status *Status
	}{
		{"first", FirstStatus([]byte("1"), U32(256), nil)},
		{"first no mtu", FirstStatus([]byte("1.2.3"), nil, nil)},
		{"first with correlation", FirstStatus([]byte("1"), U32(4), U32(0xdeadbeef))},
		{"empty version", FirstStatus([]byte{}, nil, nil)},
		{"update", NextStatus([]byte("1"), U32(128), 512, []byte("2"), nil)},
		{"update zero offset", NextStatus([]byte("1"), nil, 0, []byte("2"), U32(7))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf [FrameSize]byte
			n, err := EncodeStatus(buf[:], tc.status)
			require.NoError(t, err)
			require.Greater(t, n, 0)

			got, err := DecodeStatus(buf[:])
			require.NoError(t, err)
			assert.Equal(t, []byte(tc.status.Version), []byte(got.Version))
			assert.Equal(t, tc.status.MTU, got.MTU)
			assert.Equal(t, tc.status.CorrelationID, got.CorrelationID)
			if tc.status.Update == nil {
				assert.Nil(t, got.Update)
			} else {
				require.NotNil(t, got.Update)
				assert.Equal(t, []byte(tc.status.Update.Version), []byte(got.Update.Version))
				assert.Equal(t, tc.status.Update.Offset, got.Update.Offset)
			}
		})
	}
}

func TestCommandBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
	}{
		{"wait", NewWait(nil, nil)},
		{"wait poll", NewWait(U32(10), U32(3))},
		{"sync", NewSync([]byte("1"), nil, nil)},
		{"sync poll", NewSync([]byte("1"), U32(30), U32(9))},
		{"write", NewWrite([]byte("2"), 512, []byte{1, 2, 3, 4}, nil)},
		{"write empty data", NewWrite([]byte("2"), 0, []byte{}, U32(1))},
		{"swap", NewSwap([]byte("2"), make([]byte, 32), nil)},
		{"swap empty checksum", NewSwap([]byte("2"), []byte{}, nil)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf [FrameSize]byte
			_, err := EncodeCommand(buf[:], tc.cmd)
			require.NoError(t, err)

			got, err := DecodeCommand(buf[:])
			require.NoError(t, err)
			assert.Equal(t, tc.cmd.Tag, got.Tag)
			assert.Equal(t, []byte(tc.cmd.Version), []byte(got.Version))
			assert.Equal(t, tc.cmd.CorrelationID, got.CorrelationID)
			assert.Equal(t, tc.cmd.Poll, got.Poll)
			assert.Equal(t, tc.cmd.Offset, got.Offset)
			assert.Equal(t, []byte(tc.cmd.Data), []byte(got.Data))
			assert.Equal(t, []byte(tc.cmd.Checksum), []byte(got.Checksum))
		})
	}
}

// Decoded byte fields alias the input buffer rather than copying it.
func TestDecodeZeroCopy(t *testing.T) {
	var buf [FrameSize]byte
	data := []byte{0xaa, 0xbb, 0xcc}
	_, err := EncodeCommand(buf[:], NewWrite([]byte("2"), 0, data, nil))
	require.NoError(t, err)

	got, err := DecodeCommand(buf[:])
	require.NoError(t, err)
	require.Equal(t, data, []byte(got.Data))

	// Mutating the frame is visible through the decoded view.
	for i := range buf {
		buf[i] = 0
	}
	assert.Equal(t, []byte{0, 0, 0}, []byte(got.Data))
}

func TestDecodeTruncated(t *testing.T) {
	var buf [FrameSize]byte
	n, err := EncodeCommand(buf[:], NewWrite([]byte("2"), 128, make([]byte, 64), U32(5)))
	require.NoError(t, err)

	for _, cut := range []int{0, 1, 3, n / 2, n - 1} {
		_, err := DecodeCommand(buf[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}

func TestDecodeBadTag(t *testing.T) {
	_, err := DecodeCommand([]byte{0x07, 0, 0})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDecodeBadPresenceByte(t *testing.T) {
	// Wait command with a presence byte that is neither 0 nor 1.
	_, err := DecodeCommand([]byte{TagWait, 0x02, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEncodeOverflow(t *testing.T) {
	small := make([]byte, 8)
	_, err := EncodeCommand(small, NewWrite([]byte("2"), 0, make([]byte, 64), nil))
	assert.ErrorIs(t, err, ErrOverflow)
}

// Bytes after the message in a fixed-size frame are undefined; they must not
// confuse the decoder.
func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	var buf [FrameSize]byte
	for i := range buf {
		buf[i] = 0xee
	}
	_, err := EncodeStatus(buf[:], FirstStatus([]byte("1"), U32(256), nil))
	require.NoError(t, err)

	got, err := DecodeStatus(buf[:])
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), []byte(got.Version))
	assert.Nil(t, got.Update)
}
