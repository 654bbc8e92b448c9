package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alexandrut83/minerstats/clock"
)

// maxLineBytes bounds a single log line; longer lines are skipped.
const maxLineBytes = 64 * 1024

var (
	errTruncated = errors.New("log truncated below read cursor")
	errRotated   = errors.New("log replaced by a different file")
)

// Progress describes how far the follower has read into the log
type Progress struct {
	Path          string     `json:"path"`
	Present       bool       `json:"present"`
	Identity      string     `json:"identity,omitempty"`
	Offset        int64      `json:"offset"`
	Size          int64      `json:"size"`
	LinesRead     uint64     `json:"lines_read"`
	EventsApplied uint64     `json:"events_applied"`
	Backfills     uint64     `json:"backfills"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
}

// Follower tails the miner log and feeds every line into a Store. It
// survives the log being missing, truncated, or replaced.
type Follower struct {
	path   string
	store  *Store
	logger *zap.Logger
	clock  clock.Clock

	readBack     int
	pollInterval time.Duration
	retryBackoff time.Duration

	// Owned by the Run goroutine.
	identity Identity
	tracking bool
	offset   int64

	mu       sync.Mutex
	progress Progress
}

// NewFollower creates a follower for the log at path
func NewFollower(path string, store *Store, logger *zap.Logger) *Follower {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{
		path:         path,
		store:        store,
		logger:       logger,
		clock:        clock.Real(),
		readBack:     ReadBackLines,
		pollInterval: PollInterval,
		retryBackoff: RetryBackoff,
		progress:     Progress{Path: path},
	}
}

// Run follows the log until ctx is cancelled. I/O errors are logged
// and retried; the only return value is ctx.Err().
func (f *Follower) Run(ctx context.Context) error {
	f.logger.Info("following miner log", zap.String("path", f.path))

	for {
		err := f.follow(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			// Removed mid-cycle; the next pass waits for it.
			continue
		}

		f.logger.Warn("miner log read failed",
			zap.Error(err),
			zap.Duration("backoff", f.retryBackoff),
		)
		f.recordError(err)
		if err := f.sleep(ctx, f.retryBackoff); err != nil {
			return err
		}
	}
}

// Progress returns a copy of the follower's read position and counters
func (f *Follower) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.progress
	if p.LastErrorAt != nil {
		at := *p.LastErrorAt
		p.LastErrorAt = &at
	}
	return p
}

// follow runs one pass: wait for the file, backfill if it is new to
// us, then tail it until it goes away or is rotated.
func (f *Follower) follow(ctx context.Context) error {
	if _, err := os.Stat(f.path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", f.path, err)
		}
		f.setPresent(false)
		f.logger.Debug("miner log not found", zap.String("path", f.path))
		return f.sleep(ctx, f.retryBackoff)
	}
	f.setPresent(true)

	if err := f.resume(); err != nil {
		return err
	}
	return f.tail(ctx)
}

// resume keeps the read cursor when the file is the one we were
// reading, and backfills otherwise.
func (f *Follower) resume() error {
	if f.tracking {
		same, err := f.identity.sameAs(f.path)
		if err != nil {
			return err
		}
		if same {
			return nil
		}
		f.logger.Info("miner log rotated", zap.String("previous", f.identity.String()))
	}
	return f.backfill()
}

// backfill replays the last readBack complete lines of the file and
// moves the cursor to the end of the last complete line.
func (f *Follower) backfill() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	id, err := identifyFile(file, fingerprintSize)
	if err != nil {
		return err
	}

	ring := newLineRing(f.readBack)
	reader := bufio.NewReaderSize(file, maxLineBytes)
	var offset int64
	for {
		line, size, err := nextLine(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("backfill %s: %w", f.path, err)
		}
		offset += size
		ring.push(line)
	}

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", f.path, err)
	}
	size := info.Size()
	if size < offset {
		size = offset
	}

	lines := ring.lines()
	for _, line := range lines {
		f.applyLine(line)
	}

	f.identity = id
	f.tracking = true
	f.offset = offset

	f.mu.Lock()
	f.progress.Identity = id.String()
	f.progress.Offset = offset
	f.progress.Size = size
	f.progress.Backfills++
	f.mu.Unlock()

	f.logger.Info("backfilled miner log",
		zap.String("identity", id.String()),
		zap.Int("lines", len(lines)),
		zap.Int64("offset", offset),
	)
	return nil
}

// tail applies appended lines until the file disappears, shrinks, or
// is replaced. It returns nil in those cases so Run starts over.
func (f *Follower) tail(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := f.readAppended()
		switch {
		case errors.Is(err, errTruncated), errors.Is(err, errRotated):
			f.logger.Info("miner log reset", zap.Error(err), zap.Int64("offset", f.offset))
			f.tracking = false
			return nil
		case err != nil:
			return err
		case n > 0:
			continue
		}

		if err := f.sleep(ctx, f.pollInterval); err != nil {
			return err
		}
		if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
			f.logger.Info("miner log disappeared", zap.String("path", f.path))
			f.setPresent(false)
			return nil
		}
	}
}

// readAppended applies the complete lines written since the cursor and
// returns how many it read.
func (f *Follower) readAppended() (int, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	id, err := identifyFile(file, f.identity.HeadLen)
	if err != nil {
		return 0, err
	}
	if id != f.identity {
		return 0, errRotated
	}
	if id.HeadLen < fingerprintSize {
		f.extendFingerprint(file)
	}

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.path, err)
	}
	size := info.Size()
	f.mu.Lock()
	f.progress.Size = size
	f.mu.Unlock()

	if size < f.offset {
		return 0, errTruncated
	}
	if size == f.offset {
		return 0, nil
	}

	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek %s: %w", f.path, err)
	}

	reader := bufio.NewReaderSize(file, maxLineBytes)
	read := 0
	for {
		line, lineSize, err := nextLine(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return read, fmt.Errorf("read %s: %w", f.path, err)
		}
		f.offset += lineSize
		f.applyLine(line)
		read++
	}

	f.mu.Lock()
	f.progress.Offset = f.offset
	f.mu.Unlock()
	return read, nil
}

// extendFingerprint widens the head fingerprint of a file that was
// shorter than fingerprintSize when first seen.
func (f *Follower) extendFingerprint(file *os.File) {
	id, err := identifyFile(file, fingerprintSize)
	if err != nil || id.HeadLen == f.identity.HeadLen {
		return
	}
	f.identity = id
	f.mu.Lock()
	f.progress.Identity = id.String()
	f.mu.Unlock()
}

func (f *Follower) applyLine(line string) {
	applied := f.store.ApplyLine(strings.TrimRight(line, "\r\n"))

	f.mu.Lock()
	f.progress.LinesRead++
	if applied {
		f.progress.EventsApplied++
	}
	f.mu.Unlock()
}

func (f *Follower) setPresent(present bool) {
	f.mu.Lock()
	f.progress.Present = present
	f.mu.Unlock()
}

func (f *Follower) recordError(err error) {
	at := f.clock.Now()
	f.mu.Lock()
	f.progress.LastError = err.Error()
	f.progress.LastErrorAt = &at
	f.mu.Unlock()
}

func (f *Follower) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.clock.After(d):
		return nil
	}
}

// nextLine returns the next newline-terminated line and the number of
// bytes it occupied. A line longer than maxLineBytes is consumed but
// returned empty. io.EOF means no complete line is left; a trailing
// partial line is not consumed.
func nextLine(r *bufio.Reader) (string, int64, error) {
	var (
		buf       []byte
		size      int64
		oversized bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		size += int64(len(chunk))
		if !oversized {
			if len(buf)+len(chunk) > maxLineBytes {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case err == nil:
			if oversized {
				return "", size, nil
			}
			return string(buf), size, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return "", 0, err
		}
	}
}

// lineRing keeps the most recent lines pushed into it.
type lineRing struct {
	buf  []string
	next int
	full bool
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 1
	}
	return &lineRing{buf: make([]string, capacity)}
}

func (r *lineRing) push(line string) {
	r.buf[r.next] = line
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// lines returns the kept lines, oldest first.
func (r *lineRing) lines() []string {
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
