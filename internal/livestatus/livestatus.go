// Package livestatus maintains the bounded, ring-style JSON status files
// a running wiretap exposes for operators and other processes to read:
// serialStreams.json (recent raw bytes per port), foundPairs.json (the
// most recently correlated pairs), and counts.json (per port/slave
// request counters). Every read-modify-write is guarded both in-process
// (a sync.Mutex per file) and across processes (an advisory flock held
// for the span of the update), since more than one wiretap process may
// share a status directory.
package livestatus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	serialStreamLimit = 500
	foundPairsLimit   = 20
)

// Status owns the three live-status files rooted at dir.
type Status struct {
	dir string

	streamsMu sync.Mutex
	pairsMu   sync.Mutex
	countsMu  sync.Mutex
}

// New returns a Status writing its files under dir, which must already
// exist.
func New(dir string) *Status {
	return &Status{dir: dir}
}

// FoundPair is one entry of foundPairs.json: request/response are the
// full frame bytes, comma-joined as two-digit hex byte strings, matching
// the original wiretap's foundPairs entry shape.
type FoundPair struct {
	UUID      string    `json:"uuid"`
	Port      string    `json:"port"`
	DeviceID  int       `json:"deviceId"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"time"`
}

// streamsFile is the shape of serialStreams.json: port -> recent hex
// byte tokens, oldest first, bounded to serialStreamLimit entries.
type streamsFile map[string][]string

// countsFile is the shape of counts.json: port -> slave address (as a
// decimal string key, since JSON object keys must be strings) -> count.
type countsFile map[string]map[string]int

// UpdateSerialStream replaces port's mirrored window with window
// (already bounded by the caller's Framer), trimming to the last
// serialStreamLimit tokens defensively.
func (s *Status) UpdateSerialStream(port string, window []string) error {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	path := filepath.Join(s.dir, "serialStreams.json")
	return withLockedFile(path, func(data []byte) ([]byte, error) {
		var f streamsFile
		if err := decodeOrEmpty(data, &f); err != nil {
			return nil, err
		}
		if f == nil {
			f = make(streamsFile)
		}
		trimmed := window
		if len(trimmed) > serialStreamLimit {
			trimmed = trimmed[len(trimmed)-serialStreamLimit:]
		}
		f[port] = trimmed
		return json.Marshal(f)
	})
}

// RecordPair appends a found pair, evicting the oldest once the list
// exceeds foundPairsLimit entries.
func (s *Status) RecordPair(p FoundPair) error {
	s.pairsMu.Lock()
	defer s.pairsMu.Unlock()

	path := filepath.Join(s.dir, "foundPairs.json")
	return withLockedFile(path, func(data []byte) ([]byte, error) {
		var pairs []FoundPair
		if err := decodeOrEmpty(data, &pairs); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
		if len(pairs) > foundPairsLimit {
			pairs = pairs[len(pairs)-foundPairsLimit:]
		}
		return json.Marshal(pairs)
	})
}

// IncrementCount bumps the (port, slave) counter by one.
func (s *Status) IncrementCount(port string, slave byte) error {
	s.countsMu.Lock()
	defer s.countsMu.Unlock()

	path := filepath.Join(s.dir, "counts.json")
	return withLockedFile(path, func(data []byte) ([]byte, error) {
		var f countsFile
		if err := decodeOrEmpty(data, &f); err != nil {
			return nil, err
		}
		if f == nil {
			f = make(countsFile)
		}
		if f[port] == nil {
			f[port] = make(map[string]int)
		}
		key := fmt.Sprintf("%d", slave)
		f[port][key]++
		return json.Marshal(f)
	})
}

// decodeOrEmpty unmarshals data into v, treating a missing/empty file as
// the zero value rather than an error.
func decodeOrEmpty(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// withLockedFile opens path (creating it if absent), takes an exclusive
// advisory flock for the duration of mutate, and atomically replaces the
// file's contents with whatever mutate returns. mutate receives the
// file's current bytes (empty if the file didn't exist).
func withLockedFile(path string, mutate func(current []byte) ([]byte, error)) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	current, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	next, err := mutate(current)
	if err != nil {
		return fmt.Errorf("updating %s: %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating %s: %w", path, err)
	}
	if _, err := f.WriteAt(next, 0); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
