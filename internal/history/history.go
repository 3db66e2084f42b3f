// Package history keeps a git repository per profile and commits the
// document into it each time the debounced save lands.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const contentFile = "document.json"

var ErrNotFound = errors.New("history: snapshot not found")

type Commit struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"shortHash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Snapshot commits doc for profileID. When doc matches the latest snapshot
// nothing is written and created is false.
func (s *Service) Snapshot(profileID string, doc json.RawMessage, message string) (commit Commit, created bool, err error) {
	if err := validateID(profileID); err != nil {
		return Commit{}, false, err
	}
	normalized, err := normalizeDoc(doc)
	if err != nil {
		return Commit{}, false, err
	}

	lock := s.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(profileID)
	if err != nil {
		return Commit{}, false, err
	}

	if head, err := repo.Head(); err == nil {
		headCommit, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Commit{}, false, fmt.Errorf("load head commit: %w", err)
		}
		previous, err := readContent(headCommit)
		if err != nil {
			return Commit{}, false, err
		}
		if bytes.Equal(previous, normalized) {
			return toCommit(headCommit), false, nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Commit{}, false, fmt.Errorf("resolve head: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), append(normalized, '\n'), 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add %s: %w", contentFile, err)
	}

	if strings.TrimSpace(message) == "" {
		message = "Save document"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "scribe",
			Email: "scribe@localhost",
			When:  s.now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit document: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// List returns snapshots newest first. A profile that never saved has none.
func (s *Service) List(profileID string, limit int) ([]Commit, error) {
	if err := validateID(profileID); err != nil {
		return nil, err
	}
	lock := s.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(profileID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get returns a snapshot and its document. hash may be abbreviated.
func (s *Service) Get(profileID, hash string) (Commit, json.RawMessage, error) {
	if err := validateID(profileID); err != nil {
		return Commit{}, nil, err
	}
	lock := s.profileLock(profileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(profileID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Commit{}, nil, ErrNotFound
	}
	if err != nil {
		return Commit{}, nil, fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Commit{}, nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return Commit{}, nil, ErrNotFound
	}
	if err != nil {
		return Commit{}, nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	doc, err := readContent(commitObj)
	if err != nil {
		return Commit{}, nil, err
	}
	return toCommit(commitObj), doc, nil
}

func (s *Service) openOrInit(profileID string) (*git.Repository, error) {
	path := s.repoPath(profileID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(profileID string) string {
	return filepath.Join(s.baseDir, profileID)
}

func (s *Service) profileLock(profileID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[profileID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[profileID] = lock
	return lock
}

func validateID(profileID string) error {
	if profileID == "" || profileID == "." || profileID == ".." || strings.ContainsAny(profileID, `/\`) {
		return fmt.Errorf("invalid profile id %q", profileID)
	}
	return nil
}

func readContent(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", contentFile, err)
	}
	return json.RawMessage(bytes.TrimSpace([]byte(contents))), nil
}

func toCommit(commitObj *object.Commit) Commit {
	hash := commitObj.Hash.String()
	return Commit{
		Hash:      hash,
		ShortHash: hash[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		CreatedAt: commitObj.Author.When,
	}
}

// normalizeDoc re-encodes doc so key order and whitespace do not count as
// changes.
func normalizeDoc(doc json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return []byte("null"), nil
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return normalized, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	hash = strings.TrimSpace(hash)
	if len(hash) < 4 {
		return plumbing.ZeroHash, ErrNotFound
	}
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return *resolved, nil
}
