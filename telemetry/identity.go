package telemetry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// fileID is the platform identity of an open file: device and inode on
// unix, volume serial and file index on windows.
type fileID struct {
	Device uint64
	Index  uint64
}

// Identity tells one incarnation of the log apart from the next. The
// file id catches delete-and-recreate; the head fingerprint catches a
// file truncated and rewritten in place.
type Identity struct {
	File    fileID
	HeadLen int
	HeadSum [blake2b.Size256]byte
}

// String renders the identity for logs and the status endpoint
func (id Identity) String() string {
	return fmt.Sprintf("%d:%d/%s", id.File.Device, id.File.Index, hex.EncodeToString(id.HeadSum[:6]))
}

// identify opens path and fingerprints at most headLen leading bytes.
func identify(path string, headLen int) (Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return Identity{}, err
	}
	defer f.Close()
	return identifyFile(f, headLen)
}

// identifyFile fingerprints an open file without moving its offset.
func identifyFile(f *os.File, headLen int) (Identity, error) {
	fid, err := fileIDOf(f)
	if err != nil {
		return Identity{}, err
	}

	head := make([]byte, headLen)
	n, err := io.ReadFull(io.NewSectionReader(f, 0, int64(headLen)), head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Identity{}, fmt.Errorf("read head of %s: %w", f.Name(), err)
	}

	return Identity{
		File:    fid,
		HeadLen: n,
		HeadSum: blake2b.Sum256(head[:n]),
	}, nil
}

// sameAs reports whether path still holds the file prev was taken from.
// The head is compared over prev's length so a growing file matches.
func (prev Identity) sameAs(path string) (bool, error) {
	cur, err := identify(path, prev.HeadLen)
	if err != nil {
		return false, err
	}
	return cur == prev, nil
}
