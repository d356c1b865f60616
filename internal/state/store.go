// Package state is the durable branch state store: one JSON document per
// brainstorm session, written atomically after every mutation.
//
// All mutations for a session run under that session's lock, so concurrent
// answer recordings cannot interleave their read-modify-write cycles. The
// in-memory cache holds the last persisted document; mutations work on a
// deep copy and swap it in wholesale, and reads hand out deep copies, so a
// caller can never observe or corrupt a document mid-mutation.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ideate/ideate/internal/common/logger"
	apiv1 "github.com/ideate/ideate/pkg/api/v1"
	"go.uber.org/zap"
)

var (
	// ErrSessionExists is returned when creating a session that is already persisted.
	ErrSessionExists = errors.New("brainstorm session already exists")

	// ErrSessionNotFound is returned when a mutation names an unknown session.
	ErrSessionNotFound = errors.New("brainstorm session not found")

	// ErrBranchNotFound is returned when an operation names an unknown branch.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrBranchDone is returned when an operation would mutate a completed branch.
	ErrBranchDone = errors.New("branch already done")

	// ErrInvalidSessionID is returned when a session ID contains path
	// separators or relative components that could escape the store directory.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// errNoChange signals from a mutation callback that the document is
// untouched and must not be re-persisted.
var errNoChange = errors.New("no change")

// Store persists brainstorm documents under a root directory.
type Store struct {
	dir    string
	logger *logger.Logger

	mu    sync.Mutex
	cache map[string]*Document
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating the directory if needed.
// A leading "~/" expands to the user's home directory.
func NewStore(dir string, log *logger.Logger) (*Store, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: log.WithFields(zap.String("component", "state-store")),
		cache:  make(map[string]*Document),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// CreateSession initializes a document with every branch exploring, in the
// given order. Fails with ErrSessionExists when the session is already
// persisted.
func (s *Store) CreateSession(ctx context.Context, sessionID, request string, branches []apiv1.BranchSpec) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.load(sessionID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	now := time.Now().UTC()
	doc := &Document{
		SessionID: sessionID,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
		Branches:  make(map[string]*Branch, len(branches)),
	}
	for _, spec := range branches {
		if _, dup := doc.Branches[spec.ID]; dup {
			return fmt.Errorf("duplicate branch id %q in session %s", spec.ID, sessionID)
		}
		doc.Branches[spec.ID] = &Branch{
			ID:        spec.ID,
			Scope:     spec.Scope,
			Status:    apiv1.BranchStatusExploring,
			Questions: []BranchQuestion{},
		}
		doc.BranchOrder = append(doc.BranchOrder, spec.ID)
	}

	if err := s.persist(doc); err != nil {
		return err
	}
	s.swapCache(sessionID, doc)

	s.logger.WithSessionID(sessionID).Info("Brainstorm state created",
		zap.Int("branches", len(branches)))
	return nil
}

// GetSession returns a deep copy of the document, or nil when the session
// does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Document, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.load(sessionID)
	if err != nil || doc == nil {
		return nil, err
	}
	return clone(doc)
}

// SetBrowserSessionID binds the live browser session to the document.
func (s *Store) SetBrowserSessionID(ctx context.Context, sessionID, browserSessionID string) error {
	return s.mutate(sessionID, func(doc *Document) error {
		doc.BrowserSessionID = browserSessionID
		return nil
	})
}

// AddQuestionToBranch appends a question to the branch's history.
func (s *Store) AddQuestionToBranch(ctx context.Context, sessionID, branchID string, q BranchQuestion) error {
	return s.mutate(sessionID, func(doc *Document) error {
		b, ok := doc.Branches[branchID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
		}
		if b.Status == apiv1.BranchStatusDone {
			return fmt.Errorf("%w: %s", ErrBranchDone, branchID)
		}
		b.Questions = append(b.Questions, q)
		return nil
	})
}

// RecordAnswer stores the answer on the owning branch's question. Absent
// sessions, absent questions, and already-answered questions are silent
// no-ops: answer delivery may race teardown and may repeat, and repeats
// must not clobber the first recording.
func (s *Store) RecordAnswer(ctx context.Context, sessionID, questionID string, answer map[string]interface{}) error {
	err := s.mutate(sessionID, func(doc *Document) error {
		b := doc.FindBranchByQuestion(questionID)
		if b == nil || b.Status == apiv1.BranchStatusDone {
			return errNoChange
		}
		for i := range b.Questions {
			if b.Questions[i].ID != questionID {
				continue
			}
			if b.Questions[i].Answered() {
				return errNoChange
			}
			now := time.Now().UTC()
			b.Questions[i].Answer = answer
			b.Questions[i].AnsweredAt = &now
			return nil
		}
		return errNoChange
	})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// CompleteBranch marks the branch done with its finding. Completing a done
// branch is a no-op that preserves the original finding.
func (s *Store) CompleteBranch(ctx context.Context, sessionID, branchID, finding string) error {
	return s.mutate(sessionID, func(doc *Document) error {
		b, ok := doc.Branches[branchID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
		}
		if b.Status == apiv1.BranchStatusDone {
			return errNoChange
		}
		b.Status = apiv1.BranchStatusDone
		b.Finding = finding
		return nil
	})
}

// NextExploringBranch returns a copy of the first branch in order that is
// still exploring, or nil when every branch is done or the session is gone.
func (s *Store) NextExploringBranch(ctx context.Context, sessionID string) (*Branch, error) {
	doc, err := s.GetSession(ctx, sessionID)
	if err != nil || doc == nil {
		return nil, err
	}
	for _, id := range doc.BranchOrder {
		if b, ok := doc.Branches[id]; ok && b.Status == apiv1.BranchStatusExploring {
			return b, nil
		}
	}
	return nil, nil
}

// IsSessionComplete reports whether every branch is done.
func (s *Store) IsSessionComplete(ctx context.Context, sessionID string) (bool, error) {
	doc, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	for _, b := range doc.Branches {
		if b.Status != apiv1.BranchStatusDone {
			return false, nil
		}
	}
	return true, nil
}

// DeleteSession drops the cached document and removes the persistence file.
// Deleting an absent session is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()

	p, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.logger.WithSessionID(sessionID).Info("Brainstorm state deleted")
	return nil
}

// List enumerates the persisted session ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// mutate runs fn against a working copy of the session's document under the
// session lock, then persists the copy and swaps it into the cache. fn
// returning errNoChange leaves document and file untouched.
func (s *Store) mutate(sessionID string, fn func(doc *Document) error) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.load(sessionID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	work, err := clone(doc)
	if err != nil {
		return err
	}
	if err := fn(work); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	work.UpdatedAt = time.Now().UTC()

	if err := s.persist(work); err != nil {
		return err
	}
	s.swapCache(sessionID, work)
	return nil
}

// sessionLock returns the mutex serializing operations on one session,
// creating it on first use. Locks are kept for the process lifetime so two
// goroutines can never hold distinct locks for the same session.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// load returns the cached document or reads it from disk. Returns nil with
// no error when the session is not persisted. Callers hold the session lock.
func (s *Store) load(sessionID string) (*Document, error) {
	s.mu.Lock()
	if doc, ok := s.cache[sessionID]; ok {
		s.mu.Unlock()
		return doc, nil
	}
	s.mu.Unlock()

	p, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", p, err)
	}
	if doc.Branches == nil {
		doc.Branches = make(map[string]*Branch)
	}
	s.swapCache(sessionID, &doc)
	return &doc, nil
}

// persist writes the document to a temp file and renames it over the final
// path, so readers never observe a partial write.
func (s *Store) persist(doc *Document) error {
	p, err := s.path(doc.SessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *Store) swapCache(sessionID string, doc *Document) {
	s.mu.Lock()
	s.cache[sessionID] = doc
	s.mu.Unlock()
}

// validateID rejects session ids that could escape the store directory.
func validateID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, "/\\") ||
		strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// path returns the file path for the session after verifying it stays
// confined to the store directory.
func (s *Store) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(s.dir, id+".json"))
	if !strings.HasPrefix(p, s.dir+string(filepath.Separator)) && p != s.dir {
		return "", fmt.Errorf("%w: %q resolves outside store directory", ErrInvalidSessionID, id)
	}
	return p, nil
}

// clone deep-copies a document through its JSON form.
func clone(doc *Document) (*Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	if out.Branches == nil {
		out.Branches = make(map[string]*Branch)
	}
	return &out, nil
}
