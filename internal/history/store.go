// Package history keeps a local record of the rooms a client has been in.
// Nothing on the relay depends on it.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	DefaultLimit = 500

	sessionFile = "session.msgpack"
	roomsDir    = "rooms"
)

// Entry kinds
const (
	KindText   = "text"
	KindImage  = "image"
	KindPDF    = "pdf"
	KindSystem = "system"
)

// Entry is one line of a room's history. Attachments keep their metadata
// only; the content stays wherever the user saved it.
type Entry struct {
	Kind      string `msgpack:"k"`
	User      string `msgpack:"u"`
	Text      string `msgpack:"t,omitempty"`
	Filename  string `msgpack:"f,omitempty"`
	Filesize  int64  `msgpack:"s,omitempty"`
	Timestamp string `msgpack:"ts"`
}

// Session is the room and name last used to join.
type Session struct {
	Room string `msgpack:"room"`
	Name string `msgpack:"name"`
}

// Store appends history records under dir, one file per room.
type Store struct {
	dir   string
	limit int

	mu sync.Mutex
}

// Open prepares dir for use. limit bounds the entries returned by Load; a
// non-positive value means DefaultLimit.
func Open(dir string, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := os.MkdirAll(filepath.Join(dir, roomsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	return &Store{dir: dir, limit: limit}, nil
}

// maxHexName keeps room file names well under the usual 255 byte limit.
const maxHexName = 128

// roomPath names the file after the hex of the room code, or after its
// SHA-256 when the code is too long for that.
func (s *Store) roomPath(room string) string {
	name := hex.EncodeToString([]byte(room))
	if len(name) > maxHexName {
		sum := sha256.Sum256([]byte(room))
		name = "sha256-" + hex.EncodeToString(sum[:])
	}
	return filepath.Join(s.dir, roomsDir, name+".msgpack")
}

// Append records e for room.
func (s *Store) Append(room string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.roomPath(room), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	if err := msgpack.NewEncoder(f).Encode(&e); err != nil {
		f.Close()
		return fmt.Errorf("failed to append history: %w", err)
	}
	return f.Close()
}

// Load returns the most recent entries for room, oldest first. A room with no
// history yields nil. Files that have grown well past the limit are compacted.
func (s *Store) Load(room string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.roomPath(room)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	var entries []Entry
	dec := msgpack.NewDecoder(f)
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			// A torn record from a crash ends the history early.
			if !errors.Is(err, io.EOF) {
				slog.Warn("history truncated", "room", room, "error", err)
			}
			break
		}
		entries = append(entries, e)
	}
	f.Close()

	total := len(entries)
	if total > s.limit {
		entries = entries[total-s.limit:]
	}
	if total > 2*s.limit {
		if err := s.rewrite(path, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *Store) rewrite(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to compact history: %w", err)
	}
	enc := msgpack.NewEncoder(f)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to compact history: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Clear deletes the history of room.
func (s *Store) Clear(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.roomPath(room))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// SaveSession remembers the room and name for the next join.
func (s *Store) SaveSession(sess Session) error {
	data, err := msgpack.Marshal(&sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(filepath.Join(s.dir, sessionFile), data, 0o644)
}

// LastSession returns the saved session. ok is false when none was saved.
func (s *Store) LastSession() (sess Session, ok bool, err error) {
	s.mu.Lock()
	data, err := os.ReadFile(filepath.Join(s.dir, sessionFile))
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	if err := msgpack.Unmarshal(data, &sess); err != nil {
		return Session{}, false, fmt.Errorf("corrupt session file: %w", err)
	}
	return sess, sess.Room != "" && sess.Name != "", nil
}

// ClearSession forgets the saved session, as after an explicit logout.
func (s *Store) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, sessionFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
