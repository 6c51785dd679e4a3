package mdib

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/internal/notify"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/multikey"
)

// Index names of the descriptor, state and context state stores.
const (
	IndexHandle           = "handle"
	IndexNodeType         = "node_type"
	IndexParentHandle     = "parent_handle"
	IndexDescriptorHandle = "descriptor_handle"
)

// DataModel names the protocol definition an MDIB instance follows. It is
// passed explicitly instead of being looked up from a global registry.
type DataModel struct {
	Name      string
	Namespace string
}

// BICEPS is the IEEE 11073-10207 participant model.
var BICEPS = DataModel{
	Name:      "BICEPS",
	Namespace: "http://standards.ieee.org/downloads/11073/11073-10207-2017/participant",
}

// Config configures an [Mdib].
type Config struct {
	// DataModel defaults to [BICEPS].
	DataModel DataModel

	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// Mdib holds descriptors, states and context states plus the version group.
//
// # Concurrency
//
// All three stores share one RWMutex. Read methods take the shared lock and
// return copies. Mutation only happens through a [Writer] obtained from
// [Mdib.Lock], which holds the exclusive lock until [Writer.Unlock]; readers
// therefore never observe a half-applied batch.
type Mdib struct {
	cfg Config
	log *logrus.Logger

	mu sync.RWMutex

	descriptions *multikey.Store[*Descriptor]
	descrByID    *multikey.Index[*Descriptor]
	descrByType  *multikey.Index[*Descriptor]
	descrByPrnt  *multikey.Index[*Descriptor]

	states      *multikey.Store[*State]
	stateByDscr *multikey.Index[*State]

	contextStates *multikey.Store[*State]
	ctxByHandle   *multikey.Index[*State]
	ctxByDscr     *multikey.Index[*State]

	version VersionGroup

	changes *notify.Hub[VersionGroup]
	closed  atomic.Bool
}

// New returns an empty MDIB at version zero with the given sequence id.
func New(sequenceID string, cfg Config) (*Mdib, error) {
	if sequenceID == "" {
		return nil, errors.New("sequence id is required")
	}

	if cfg.DataModel == (DataModel{}) {
		cfg.DataModel = BICEPS
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	m := &Mdib{
		cfg:     cfg,
		log:     cfg.Logger,
		version: VersionGroup{SequenceID: sequenceID},
		changes: notify.NewHub[VersionGroup](),
	}

	m.descrByID = multikey.Unique(IndexHandle, func(d *Descriptor) (string, bool) {
		return d.Handle, true
	})
	m.descrByType = multikey.Multi(IndexNodeType, func(d *Descriptor) (string, bool) {
		return string(d.NodeType), true
	})
	m.descrByPrnt = multikey.Multi(IndexParentHandle, func(d *Descriptor) (string, bool) {
		return d.ParentHandle, d.ParentHandle != ""
	})

	var err error

	m.descriptions, err = multikey.New(
		[]*multikey.Index[*Descriptor]{m.descrByID, m.descrByType, m.descrByPrnt},
		multikey.WithMutex(&m.mu),
	)
	if err != nil {
		return nil, fmt.Errorf("creating descriptor store: %w", err)
	}

	// unique: a single-state descriptor has at most one state
	m.stateByDscr = multikey.Unique(IndexDescriptorHandle, func(s *State) (string, bool) {
		return s.DescriptorHandle, true
	})

	m.states, err = multikey.New(
		[]*multikey.Index[*State]{m.stateByDscr},
		multikey.WithMutex(&m.mu),
	)
	if err != nil {
		return nil, fmt.Errorf("creating state store: %w", err)
	}

	m.ctxByHandle = multikey.Unique(IndexHandle, func(s *State) (string, bool) {
		return s.Handle, true
	})
	m.ctxByDscr = multikey.Multi(IndexDescriptorHandle, func(s *State) (string, bool) {
		return s.DescriptorHandle, true
	})

	m.contextStates, err = multikey.New(
		[]*multikey.Index[*State]{m.ctxByHandle, m.ctxByDscr},
		multikey.WithMutex(&m.mu),
	)
	if err != nil {
		return nil, fmt.Errorf("creating context state store: %w", err)
	}

	return m, nil
}

// DataModel returns the protocol definition this MDIB was created with.
func (m *Mdib) DataModel() DataModel {
	return m.cfg.DataModel
}

// Logger returns the configured logger.
func (m *Mdib) Logger() *logrus.Logger {
	return m.log
}

// VersionGroup returns the current version group.
func (m *Mdib) VersionGroup() VersionGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.version.Copy()
}

// Subscribe returns a subscription that receives the version group after
// every write batch that changed it. One value per batch.
func (m *Mdib) Subscribe(buffer int) *notify.Subscription[VersionGroup] {
	return m.changes.Subscribe(buffer)
}

// Close releases all subscriptions. It must not be called while a [Writer]
// is held.
func (m *Mdib) Close() {
	if m.closed.Swap(true) {
		return
	}

	m.changes.CloseAll()
}

// Closed reports whether Close was called.
func (m *Mdib) Closed() bool {
	return m.closed.Load()
}

// Descriptor returns a copy of the descriptor with the given handle.
func (m *Mdib) Descriptor(handle string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, err := m.descrByID.GetOneUnlocked(handle, true)
	if err != nil {
		return nil, WithHandle(err, handle)
	}

	if d == nil {
		return nil, &Error{Handle: handle, Err: ErrNotFound}
	}

	return d.Copy(), nil
}

// Descriptors returns copies of all descriptors in insertion order.
func (m *Mdib) Descriptors() []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyDescriptors(m.descriptions.ObjectsUnlocked())
}

// DescriptorsByType returns copies of all descriptors of the node type.
func (m *Mdib) DescriptorsByType(nodeType NodeType) []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyDescriptors(m.descrByType.GetUnlocked(string(nodeType)))
}

// Children returns copies of the direct children of handle.
func (m *Mdib) Children(handle string) []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyDescriptors(m.descrByPrnt.GetUnlocked(handle))
}

// FindDescriptors returns copies of the descriptors matching any predicate.
func (m *Mdib) FindDescriptors(preds ...multikey.Predicate[*Descriptor]) []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyDescriptors(m.descriptions.FindUnlocked(preds...))
}

// SubtreeDescriptors returns copies of root and all its descendants in
// pre-order. Siblings appear in insertion order.
func (m *Mdib) SubtreeDescriptors(root string) ([]*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subtree, err := m.subtreeUnlocked(root)
	if err != nil {
		return nil, err
	}

	return copyDescriptors(subtree), nil
}

// SourceMds returns the handle of the root descriptor owning handle.
func (m *Mdib) SourceMds(handle string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sourceMdsUnlocked(handle)
}

// OrphanedDescriptors returns the handles of descriptors whose parent is
// not present.
func (m *Mdib) OrphanedDescriptors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.orphansUnlocked()
}

// State returns a copy of the state of a single-state descriptor.
func (m *Mdib) State(descriptorHandle string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.stateByDscr.GetOneUnlocked(descriptorHandle, true)
	if err != nil {
		return nil, WithHandle(err, descriptorHandle)
	}

	if s == nil {
		return nil, &Error{Handle: descriptorHandle, Err: ErrNotFound}
	}

	return s.Copy(), nil
}

// States returns copies of all single states in insertion order.
func (m *Mdib) States() []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyStates(m.states.ObjectsUnlocked())
}

// ContextState returns a copy of the context state with the given handle.
func (m *Mdib) ContextState(handle string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.ctxByHandle.GetOneUnlocked(handle, true)
	if err != nil {
		return nil, WithHandle(err, handle)
	}

	if s == nil {
		return nil, &Error{Handle: handle, Err: ErrNotFound}
	}

	return s.Copy(), nil
}

// ContextStates returns copies of the context states of a context descriptor.
func (m *Mdib) ContextStates(descriptorHandle string) []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyStates(m.ctxByDscr.GetUnlocked(descriptorHandle))
}

// AllContextStates returns copies of every context state in insertion order.
func (m *Mdib) AllContextStates() []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyStates(m.contextStates.ObjectsUnlocked())
}

// Snapshot returns a consistent deep copy of the whole MDIB.
func (m *Mdib) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshotUnlocked()
}

func (m *Mdib) snapshotUnlocked() Snapshot {
	states := copyStates(m.states.ObjectsUnlocked())
	states = append(states, copyStates(m.contextStates.ObjectsUnlocked())...)

	return Snapshot{
		Version:     m.version.Copy(),
		Descriptors: copyDescriptors(m.descriptions.ObjectsUnlocked()),
		States:      states,
	}
}

func (m *Mdib) subtreeUnlocked(root string) ([]*Descriptor, error) {
	start, err := m.descrByID.GetOneUnlocked(root, true)
	if err != nil {
		return nil, WithHandle(err, root)
	}

	if start == nil {
		return nil, &Error{Handle: root, Err: ErrNotFound}
	}

	var out []*Descriptor

	visited := map[string]bool{}
	stack := []*Descriptor{start}

	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[d.Handle] {
			continue
		}

		visited[d.Handle] = true
		out = append(out, d)

		children := m.descrByPrnt.GetUnlocked(d.Handle)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return out, nil
}

func (m *Mdib) sourceMdsUnlocked(handle string) (string, error) {
	seen := map[string]bool{}
	current := handle

	for {
		d, err := m.descrByID.GetOneUnlocked(current, true)
		if err != nil {
			return "", WithHandle(err, current)
		}

		if d == nil {
			return "", &Error{Handle: current, Err: ErrNotFound}
		}

		if d.IsRoot() {
			return d.Handle, nil
		}

		if seen[current] {
			return "", &Error{Handle: handle, Err: fmt.Errorf("%w: parent cycle", ErrStructural)}
		}

		seen[current] = true
		current = d.ParentHandle
	}
}

func (m *Mdib) orphansUnlocked() []string {
	missing := map[string]bool{}

	for _, parent := range m.descrByPrnt.KeysUnlocked() {
		if len(m.descrByID.GetUnlocked(parent)) == 0 {
			missing[parent] = true
		}
	}

	if len(missing) == 0 {
		return nil
	}

	var out []string

	// insertion order keeps the result stable
	for _, d := range m.descriptions.ObjectsUnlocked() {
		if missing[d.ParentHandle] {
			out = append(out, d.Handle)
		}
	}

	return out
}

func copyDescriptors(in []*Descriptor) []*Descriptor {
	out := make([]*Descriptor, 0, len(in))
	for _, d := range in {
		out = append(out, d.Copy())
	}

	return out
}

func copyStates(in []*State) []*State {
	out := make([]*State, 0, len(in))
	for _, s := range in {
		out = append(out, s.Copy())
	}

	return out
}
