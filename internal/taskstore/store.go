package taskstore

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scanorch/scanorch/internal/lifecycle"
	"github.com/scanorch/scanorch/internal/secrets"
)

const (
	taskFileName     = "task.json"
	artifactFileName = "scan_native.nessus"
)

// Store is the local-filesystem task store: {data_root}/{task_id}/task.json
// plus, once available, {data_root}/{task_id}/scan_native.nessus.
type Store struct {
	dataDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	encryptor *secrets.Encryptor
}

func New(dataDir string) *Store {
	return &Store{dataDir: dataDir, locks: make(map[string]*sync.Mutex)}
}

// WithEncryptor enables at-rest encryption of credential descriptor
// passwords. Every write encrypts, every read decrypts; callers always see
// plaintext in memory.
func (s *Store) WithEncryptor(enc *secrets.Encryptor) *Store {
	s.encryptor = enc
	return s
}

func (s *Store) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	return l
}

func (s *Store) dir(taskID string) string {
	return filepath.Join(s.dataDir, taskID)
}

func (s *Store) taskPath(taskID string) string {
	return filepath.Join(s.dir(taskID), taskFileName)
}

func (s *Store) ArtifactPath(taskID string) string {
	return filepath.Join(s.dir(taskID), artifactFileName)
}

// Create atomically materializes the task directory and record. It fails if
// task_id already exists.
func (s *Store) Create(task *Task) error {
	lock := s.taskLock(task.TaskID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(task.TaskID)
	if _, err := os.Stat(s.taskPath(task.TaskID)); err == nil {
		return ErrTaskExists
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	if task.Status == "" {
		task.Status = lifecycle.Initial
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	return s.write(task)
}

// Get returns the record or ErrTaskNotFound. Missing fields in older records
// default to their zero value, which is the absent-field contract §4.1
// requires.
func (s *Store) Get(taskID string) (*Task, error) {
	data, err := os.ReadFile(s.taskPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	if s.encryptor != nil && task.Payload.Credentials != nil && task.Payload.Credentials.Password != "" {
		plaintext, err := s.encryptor.DecryptString(task.Payload.Credentials.Password)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential password for task %s: %w", taskID, err)
		}
		task.Payload.Credentials.Password = plaintext
	}
	return &task, nil
}

// UpdateStatus loads the task, validates the transition through the
// lifecycle machine, stamps started_at/completed_at, lets mutate apply
// additional fields, and writes atomically. mutate may be nil.
func (s *Store) UpdateStatus(taskID string, next lifecycle.Status, mutate func(*Task)) (*Task, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.Get(taskID)
	if err != nil {
		return nil, err
	}

	if err := lifecycle.Validate(task.Status, next); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if next == lifecycle.StatusRunning && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if next.Terminal() {
		task.CompletedAt = &now
	}

	task.Status = next
	if mutate != nil {
		mutate(task)
	}

	if next.Failure() && task.ErrorMessage == "" {
		return nil, fmt.Errorf("transition to %s requires an error_message", next)
	}

	if err := s.write(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Patch loads the task, lets mutate apply in-place field changes, and
// writes it back without running a lifecycle transition. Used for
// mid-running updates (progress, upstream_scan_id) that don't change
// status.
func (s *Store) Patch(taskID string, mutate func(*Task)) (*Task, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.Get(taskID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(task)
	}
	if err := s.write(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Store) write(task *Task) error {
	toWrite := task
	if s.encryptor != nil && task.Payload.Credentials != nil && task.Payload.Credentials.Password != "" {
		cloned := *task
		credCopy := *task.Payload.Credentials
		ciphertext, err := s.encryptor.EncryptString(credCopy.Password)
		if err != nil {
			return fmt.Errorf("encrypt credential password: %w", err)
		}
		credCopy.Password = ciphertext
		cloned.Payload.Credentials = &credCopy
		toWrite = &cloned
	}

	data, err := json.MarshalIndent(toWrite, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.taskPath(task.TaskID), data, 0o640)
}

// WriteArtifact writes the native result document exactly once; a second
// write is rejected, matching "written exactly once ... never mutated
// afterward".
func (s *Store) WriteArtifact(taskID string, data []byte) error {
	path := s.ArtifactPath(taskID)
	if _, err := os.Stat(path); err == nil {
		return ErrArtifactExists
	}
	return writeFileAtomic(path, data, 0o640)
}

func (s *Store) ReadArtifact(taskID string) ([]byte, error) {
	data, err := os.ReadFile(s.ArtifactPath(taskID))
	if os.IsNotExist(err) {
		return nil, ErrTaskNotFound
	}
	return data, err
}

// DeleteTask removes a task's entire directory (record and artifact) and
// returns the number of bytes freed. Used by the housekeeping sweep; callers
// are expected to have already decided the task is past its retention
// window.
func (s *Store) DeleteTask(taskID string) (int64, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(taskID)
	var freed int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			freed += info.Size()
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		return 0, err
	}

	s.mu.Lock()
	delete(s.locks, taskID)
	s.mu.Unlock()
	return freed, nil
}

// Filter is the composite predicate List applies across the task directory.
type Filter struct {
	Status      lifecycle.Status
	Pool        string
	ScannerType string
	Target      string
}

func (f Filter) matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Pool != "" && t.ScannerPool != f.Pool {
		return false
	}
	if f.ScannerType != "" && t.ScannerType != f.ScannerType {
		return false
	}
	if f.Target != "" && !matchesTarget(f.Target, t.Payload.Targets) {
		return false
	}
	return true
}

// List scans the task directory and applies the composite filter, returning
// matches ordered by created_at descending (newest first), capped at limit
// (0 or negative means unlimited).
func (s *Store) List(filter Filter, limit int) ([]*Task, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var matched []*Task
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		task, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		if filter.matches(task) {
			matched = append(matched, task)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// matchesTarget implements the CIDR-aware target predicate: query-IP-in-
// stored-network, stored-IP-in-query-network, network overlap, or a
// case-insensitive hostname fallback. storedTargets may list several
// comma-separated targets.
func matchesTarget(query, storedTargets string) bool {
	for _, stored := range strings.Split(storedTargets, ",") {
		stored = strings.TrimSpace(stored)
		if stored == "" {
			continue
		}
		if targetMatches(query, stored) {
			return true
		}
	}
	return false
}

func targetMatches(query, stored string) bool {
	queryIP, queryNet, queryIsNet := parseTarget(query)
	storedIP, storedNet, storedIsNet := parseTarget(stored)

	if queryIsNet && storedIP != nil {
		if queryNet.Contains(storedIP) {
			return true
		}
	}
	if storedIsNet && queryIP != nil {
		if storedNet.Contains(queryIP) {
			return true
		}
	}
	if queryIsNet && storedIsNet {
		if networksOverlap(queryNet, storedNet) {
			return true
		}
	}
	if queryIP != nil && storedIP != nil && queryIP.Equal(storedIP) {
		return true
	}
	if queryIP == nil && storedIP == nil && !queryIsNet && !storedIsNet {
		return strings.EqualFold(query, stored)
	}
	return false
}

func parseTarget(value string) (ip net.IP, network *net.IPNet, isNetwork bool) {
	if strings.Contains(value, "/") {
		_, n, err := net.ParseCIDR(value)
		if err == nil {
			return nil, n, true
		}
		return nil, nil, false
	}
	ip = net.ParseIP(value)
	return ip, nil, false
}

func networksOverlap(a, b *net.IPNet) bool {
	return a.Contains(firstIP(b)) || b.Contains(firstIP(a))
}

func firstIP(n *net.IPNet) net.IP {
	return n.IP
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
