package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"regionscan/internal/remote"
	logx "regionscan/pkg/logx"
)

// fileStore keeps the full index in memory and persists it as:
//   - <prefix>.snapshot.json (full state, rewritten on compaction and close)
//   - <prefix>.journal.jsonl (append-only changes since the snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	index        *Memory
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op       string           `json:"op"` // put|delete
	Target   string           `json:"target,omitempty"`
	Resource *remote.Resource `json:"resource,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	index := NewMemory()
	if err := loadSnapshot(snapPath, index); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("storage snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, index, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	log.Debug("file storage opened", logx.String("prefix", prefix), logx.Int("resources", index.Len()))
	return &fileStore{
		log:          log,
		index:        index,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) PutResource(ctx context.Context, r remote.Resource) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Op: "put", Resource: &r}); err != nil {
		return err
	}
	s.index.putLocked(r)
	return nil
}

func (s *fileStore) ListResources(ctx context.Context, t remote.Target) ([]remote.Resource, error) {
	s.mu.Lock()
	closed := s.journal == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.index.ListResources(ctx, t)
}

func (s *fileStore) DeleteTarget(ctx context.Context, t remote.Target) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	if err := s.appendLocked(journalRecord{Op: "delete", Target: t.Key()}); err != nil {
		return 0, err
	}
	return s.index.deleteLocked(t.Key()), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	errCompact := s.compactLocked()
	errClose := s.journal.Close()
	s.journal = nil
	if errCompact != nil {
		return errCompact
	}
	return errClose
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort; the journal still holds everything.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes the index to the snapshot and truncates the journal.
func (s *fileStore) compactLocked() error {
	s.index.mu.RLock()
	all := make([]remote.Resource, 0)
	for _, rs := range s.index.byTgt {
		for _, r := range rs {
			all = append(all, r)
		}
	}
	s.index.mu.RUnlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, into *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []remote.Resource
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, r := range all {
		into.putLocked(r)
	}
	return nil
}

func replayJournal(path string, into *Memory, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	skipped := 0
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		switch rec.Op {
		case "put":
			if rec.Resource != nil {
				into.putLocked(*rec.Resource)
			}
		case "delete":
			into.deleteLocked(rec.Target)
		default:
			skipped++
		}
	}
	if skipped > 0 {
		log.Warn("storage journal had unreadable records", logx.String("path", path), logx.Int("skipped", skipped))
	}
	return sc.Err()
}
