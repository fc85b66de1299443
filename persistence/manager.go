package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/htmgo/blobstore"
)

var (
	// ErrManagerClosed is returned when operations are attempted on a closed manager.
	ErrManagerClosed = errors.New("persistence manager is closed")

	// ErrNoSnapshot is returned when a run has no stored snapshot.
	ErrNoSnapshot = errors.New("no snapshot found")
)

const (
	// DefaultPrefix is the blob name prefix of snapshots.
	DefaultPrefix = "snapshots"

	snapshotExt = ".htm"
)

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the blob name prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = strings.Trim(prefix, "/")
	}
}

// WithCompression sets the payload compression. Defaults to CompressionZSTD.
func WithCompression(c CompressionType) Option {
	return func(m *Manager) {
		m.compression = c
	}
}

// WithRetention keeps only the newest n snapshots per run. Zero keeps all.
func WithRetention(n int) Option {
	return func(m *Manager) {
		m.retain = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// Manager stores snapshots in a blobstore.Store, one numbered sequence per run.
//
// The Manager is thread-safe and can be used concurrently.
type Manager struct {
	store       blobstore.Store
	prefix      string
	compression CompressionType
	retain      int
	logger      *slog.Logger

	mu     sync.Mutex
	next   map[uuid.UUID]int
	closed bool
}

// NewManager creates a Manager on store.
func NewManager(store blobstore.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:       store,
		prefix:      DefaultPrefix,
		compression: CompressionZSTD,
		logger:      slog.New(slog.DiscardHandler),
		next:        make(map[uuid.UUID]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	switch {
	case store == nil:
		return nil, errors.New("persistence: nil store")
	case !m.compression.valid():
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, m.compression)
	case m.retain < 0:
		return nil, fmt.Errorf("persistence: negative retention %d", m.retain)
	}
	return m, nil
}

func (m *Manager) runPrefix(runID uuid.UUID) string {
	if m.prefix == "" {
		return runID.String() + "/"
	}
	return path.Join(m.prefix, runID.String()) + "/"
}

// SaveInfo describes a stored snapshot.
type SaveInfo struct {
	Name     string
	Sequence int
	Bytes    int
}

// Save encodes snap and stores it as the next snapshot of its run.
func (m *Manager) Save(ctx context.Context, snap *Snapshot) (SaveInfo, error) {
	data, err := Marshal(snap, m.compression)
	if err != nil {
		return SaveInfo{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return SaveInfo{}, ErrManagerClosed
	}

	seq, ok := m.next[snap.RunID]
	if !ok {
		names, err := m.list(ctx, snap.RunID)
		if err != nil {
			return SaveInfo{}, err
		}
		if len(names) > 0 {
			last, _ := sequenceOf(names[len(names)-1])
			seq = last + 1
		}
	}

	name := m.runPrefix(snap.RunID) + fmt.Sprintf("%08d%s", seq, snapshotExt)
	if err := m.store.Put(ctx, name, data); err != nil {
		return SaveInfo{}, fmt.Errorf("store snapshot %s: %w", name, err)
	}
	m.next[snap.RunID] = seq + 1

	m.logger.Info("snapshot saved",
		"run", snap.RunID,
		"name", name,
		"bytes", len(data),
		"compression", m.compression.String(),
	)

	if m.retain > 0 {
		if err := m.prune(ctx, snap.RunID); err != nil {
			m.logger.Warn("snapshot pruning failed", "run", snap.RunID, "error", err)
		}
	}
	return SaveInfo{Name: name, Sequence: seq, Bytes: len(data)}, nil
}

// Load reads the snapshot stored under name.
func (m *Manager) Load(ctx context.Context, name string) (*Snapshot, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	data, err := m.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	snap, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	m.logger.Info("snapshot loaded", "run", snap.RunID, "name", name)
	return snap, nil
}

// Latest loads the newest snapshot of runID.
func (m *Manager) Latest(ctx context.Context, runID uuid.UUID) (*Snapshot, string, error) {
	names, err := m.Snapshots(ctx, runID)
	if err != nil {
		return nil, "", err
	}
	if len(names) == 0 {
		return nil, "", fmt.Errorf("%w: run %s", ErrNoSnapshot, runID)
	}
	name := names[len(names)-1]
	snap, err := m.Load(ctx, name)
	return snap, name, err
}

// Snapshots returns the blob names of runID, oldest first.
func (m *Manager) Snapshots(ctx context.Context, runID uuid.UUID) ([]string, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	return m.list(ctx, runID)
}

// Runs returns the IDs of all runs with stored snapshots.
func (m *Manager) Runs(ctx context.Context) ([]uuid.UUID, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	prefix := ""
	if m.prefix != "" {
		prefix = m.prefix + "/"
	}
	names, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var runs []uuid.UUID
	for _, name := range names {
		dir, _, ok := strings.Cut(strings.TrimPrefix(name, prefix), "/")
		if !ok {
			continue
		}
		id, err := uuid.Parse(dir)
		if err != nil {
			continue
		}
		if !slices.Contains(runs, id) {
			runs = append(runs, id)
		}
	}
	slices.SortFunc(runs, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	return runs, nil
}

// Close releases the manager. Further calls fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	m.closed = true
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// list returns the snapshot names of runID in sequence order.
func (m *Manager) list(ctx context.Context, runID uuid.UUID) ([]string, error) {
	names, err := m.store.List(ctx, m.runPrefix(runID))
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if _, ok := sequenceOf(name); ok {
			out = append(out, name)
		}
	}
	// Zero-padded sequences sort lexically.
	slices.Sort(out)
	return out, nil
}

func (m *Manager) prune(ctx context.Context, runID uuid.UUID) error {
	names, err := m.list(ctx, runID)
	if err != nil {
		return err
	}
	for len(names) > m.retain {
		if err := m.store.Delete(ctx, names[0]); err != nil {
			return err
		}
		m.logger.Debug("snapshot pruned", "run", runID, "name", names[0])
		names = names[1:]
	}
	return nil
}

func sequenceOf(name string) (int, bool) {
	base := path.Base(name)
	if !strings.HasSuffix(base, snapshotExt) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(base, snapshotExt))
	return n, err == nil && n >= 0
}
