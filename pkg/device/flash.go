package device

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/anthropics/purple-dfu/pkg/update"
)

// DefaultFlashMTU is the write block size advertised by the flash device.
const DefaultFlashMTU = 4096

// Flash state directory layout.
const (
	flashLockFile     = ".lock"
	flashCurrentFile  = "current"
	flashGoodFile     = "good"
	flashProgressFile = "progress"
	flashStagedFile   = "staged.bin"
	flashImageFile    = "firmware.bin"
)

// Flash is a firmware device backed by a state directory on disk. It
// persists the current version, the staged image and the write progress so
// that an update interrupted by a power cycle resumes at the right offset.
// The directory is guarded with an exclusive flock; a second open fails.
//
// On Update the staged image is checked against the supplied checksum when
// one is given (32 byte SHA-256; an empty or all-zero checksum is accepted
// unverified) and renamed into place atomically.
type Flash struct {
	mu          sync.Mutex
	dir         string
	mtu         uint32
	lock        *os.File
	staged      *os.File
	current     update.Version
	nextOffset  uint32
	nextVersion *update.Version
	log         logrus.FieldLogger
}

// OpenFlash opens (creating if needed) a flash device rooted at dir.
func OpenFlash(dir string) (*Flash, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	lock, err := os.OpenFile(filepath.Join(dir, flashLockFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("state directory %s is locked by another process: %w", dir, err)
	}
	f := &Flash{
		dir:  dir,
		mtu:  DefaultFlashMTU,
		lock: lock,
		log:  logrus.StandardLogger(),
	}
	if err := f.load(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (f *Flash) load() error {
	if data, err := os.ReadFile(filepath.Join(f.dir, flashCurrentFile)); err == nil {
		v, err := update.VersionFromSlice(data)
		if err != nil {
			return fmt.Errorf("reading current version: %w", err)
		}
		f.current = v
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading current version: %w", err)
	}

	staged, err := os.OpenFile(filepath.Join(f.dir, flashStagedFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening staged image: %w", err)
	}
	f.staged = staged

	data, err := os.ReadFile(filepath.Join(f.dir, flashProgressFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading progress: %w", err)
	}
	version, offset, err := decodeProgress(data)
	if err != nil {
		// A torn progress write discards the update in progress; the
		// service will restart it from offset 0.
		f.log.WithError(err).Warn("discarding unreadable update progress")
		return nil
	}
	v, err := update.VersionFromSlice(version)
	if err != nil {
		return fmt.Errorf("reading progress: %w", err)
	}
	f.nextVersion = &v
	f.nextOffset = offset
	return nil
}

// Close releases the state directory.
func (f *Flash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staged != nil {
		f.staged.Close()
		f.staged = nil
	}
	if f.lock != nil {
		unix.Flock(int(f.lock.Fd()), unix.LOCK_UN)
		f.lock.Close()
		f.lock = nil
	}
	return nil
}

// Version returns the currently installed firmware version.
func (f *Flash) Version() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.current.Bytes()))
	copy(out, f.current.Bytes())
	return out
}

// MTU implements update.Device.
func (f *Flash) MTU() uint32 {
	return f.mtu
}

// Status implements update.Device.
func (f *Flash) Status(ctx context.Context) (update.FirmwareStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := update.FirmwareStatus{CurrentVersion: f.current, NextOffset: f.nextOffset}
	if f.nextVersion != nil {
		v := *f.nextVersion
		st.NextVersion = &v
	}
	return st, nil
}

// Start implements update.Device. Any staged image is discarded.
func (f *Flash) Start(ctx context.Context, version []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := update.VersionFromSlice(version)
	if err != nil {
		return err
	}
	if err := f.staged.Truncate(0); err != nil {
		return fmt.Errorf("truncating staged image: %w", err)
	}
	f.nextVersion = &v
	f.nextOffset = 0
	if err := f.storeProgress(); err != nil {
		return err
	}
	f.log.WithField("version", v.String()).Info("firmware write started")
	return nil
}

// Write implements update.Device. The offset must be the next expected one.
func (f *Flash) Write(ctx context.Context, offset uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextVersion == nil {
		return fmt.Errorf("write before start")
	}
	if offset != f.nextOffset {
		return fmt.Errorf("write at offset %d, expected %d", offset, f.nextOffset)
	}
	if _, err := f.staged.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("writing staged image: %w", err)
	}
	if err := f.staged.Sync(); err != nil {
		return fmt.Errorf("syncing staged image: %w", err)
	}
	f.nextOffset += uint32(len(data))
	return f.storeProgress()
}

// Update implements update.Device. It verifies the checksum, installs the
// staged image atomically and records the new current version.
func (f *Flash) Update(ctx context.Context, version, checksum []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextVersion == nil || !f.nextVersion.Equal(version) {
		return fmt.Errorf("update for version %q does not match staged version", version)
	}
	if err := f.verifyChecksum(checksum); err != nil {
		return err
	}
	v, err := update.VersionFromSlice(version)
	if err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(f.dir, flashStagedFile), filepath.Join(f.dir, flashImageFile)); err != nil {
		return fmt.Errorf("installing image: %w", err)
	}
	f.staged.Close()
	staged, err := os.OpenFile(filepath.Join(f.dir, flashStagedFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("reopening staged image: %w", err)
	}
	f.staged = staged
	if err := writeFileSync(filepath.Join(f.dir, flashCurrentFile), version); err != nil {
		return fmt.Errorf("recording current version: %w", err)
	}
	os.Remove(filepath.Join(f.dir, flashProgressFile))
	os.Remove(filepath.Join(f.dir, flashGoodFile))
	f.current = v
	f.nextVersion = nil
	f.nextOffset = 0
	f.log.WithField("version", v.String()).Info("firmware installed, reset to boot it")
	return nil
}

// Synced implements update.Device. It marks the running image as good.
func (f *Flash) Synced(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeFileSync(filepath.Join(f.dir, flashGoodFile), f.current.Bytes())
}

// verifyChecksum compares the staged image against a 32 byte SHA-256
// checksum. Empty and all-zero checksums are accepted unverified.
func (f *Flash) verifyChecksum(checksum []byte) error {
	if len(checksum) == 0 || bytes.Equal(checksum, make([]byte, len(checksum))) {
		return nil
	}
	if len(checksum) != sha256.Size {
		return fmt.Errorf("checksum length %d, expected %d", len(checksum), sha256.Size)
	}
	image, err := os.ReadFile(filepath.Join(f.dir, flashStagedFile))
	if err != nil {
		return fmt.Errorf("reading staged image: %w", err)
	}
	sum := sha256.Sum256(image)
	if !bytes.Equal(sum[:], checksum) {
		return fmt.Errorf("checksum mismatch for staged image")
	}
	return nil
}

func (f *Flash) storeProgress() error {
	data := encodeProgress(f.nextVersion.Bytes(), f.nextOffset)
	if err := writeFileSync(filepath.Join(f.dir, flashProgressFile), data); err != nil {
		return fmt.Errorf("recording progress: %w", err)
	}
	return nil
}

// Progress file layout: u16 version length, version bytes, u32 offset, all
// little-endian.
func encodeProgress(version []byte, offset uint32) []byte {
	buf := make([]byte, 2+len(version)+4)
	binary.LittleEndian.PutUint16(buf, uint16(len(version)))
	copy(buf[2:], version)
	binary.LittleEndian.PutUint32(buf[2+len(version):], offset)
	return buf
}

func decodeProgress(data []byte) (version []byte, offset uint32, err error) {
	if len(data) < 2 {
		return nil, 0, fmt.Errorf("progress file too short")
	}
	n := int(binary.LittleEndian.Uint16(data))
	if len(data) < 2+n+4 {
		return nil, 0, fmt.Errorf("progress file too short")
	}
	return data[2 : 2+n], binary.LittleEndian.Uint32(data[2+n:]), nil
}

func writeFileSync(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := unix.Fdatasync(int(file.Fd())); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
