// Package provider is the device side of an MDIB: it owns the authoritative
// [mdib.Mdib] and mutates it only through atomic transactions.
//
// Exactly one transaction is open at a time. An open transaction holds the
// MDIB write lock, so concurrent readers block until it commits or rolls back
// and never observe a half-applied batch. Changes are staged on the [Tx] and
// merged into the live stores on [Tx.Commit], which bumps the MDIB version
// exactly once and hands a categorized [TransactionResult] to every
// registered [ReportSink].
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// ErrTxClosed indicates use of a transaction after Commit, Rollback or an
// aborting structural error.
var ErrTxClosed = errors.New("transaction closed")

// Config configures a [Provider].
type Config struct {
	// SequenceID of the MDIB epoch. Defaults to a fresh "urn:uuid:..." value.
	SequenceID string

	// InstanceID is optional and passed through to the version group.
	InstanceID *uint32

	// DataModel defaults to [mdib.BICEPS].
	DataModel mdib.DataModel

	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// ReportSink receives the outcome of every non-empty commit, in version
// order. Sinks are called after the MDIB lock is released but before the
// next transaction can begin, so they may read the MDIB.
type ReportSink interface {
	OnTransaction(res *TransactionResult)
	OnRealTimeSamples(res *RealTimeResult)
}

// Provider owns the device MDIB.
type Provider struct {
	cfg  Config
	log  *logrus.Logger
	mdib *mdib.Mdib

	// sem admits one open transaction; a buffered channel so Begin can wait
	// on ctx as well.
	sem chan struct{}

	sinkMu   sync.Mutex
	sinks    map[uint64]ReportSink
	sinkNext uint64

	committed atomic.Bool
	closed    atomic.Bool
}

type txKey struct{}

// New returns a provider with an empty MDIB at version zero.
func New(cfg Config) (*Provider, error) {
	if cfg.SequenceID == "" {
		cfg.SequenceID = "urn:uuid:" + uuid.NewString()
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	m, err := mdib.New(cfg.SequenceID, mdib.Config{DataModel: cfg.DataModel, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("creating mdib: %w", err)
	}

	if cfg.InstanceID != nil {
		w := m.Lock()
		v := w.VersionGroup()
		v.InstanceID = mdib.Instance(*cfg.InstanceID)
		w.SetVersionGroup(v)
		w.Unlock()
	}

	return &Provider{
		cfg:   cfg,
		log:   cfg.Logger,
		mdib:  m,
		sem:   make(chan struct{}, 1),
		sinks: make(map[uint64]ReportSink),
	}, nil
}

// Mdib returns the device MDIB for reading. Mutating it directly bypasses
// the transaction protocol and is not allowed.
func (p *Provider) Mdib() *mdib.Mdib {
	return p.mdib
}

// VersionGroup returns the current version group.
func (p *Provider) VersionGroup() mdib.VersionGroup {
	return p.mdib.VersionGroup()
}

// Snapshot returns a consistent copy of the whole MDIB.
func (p *Provider) Snapshot() mdib.Snapshot {
	return p.mdib.Snapshot()
}

// AddSink registers s and returns a function that removes it again.
func (p *Provider) AddSink(s ReportSink) func() {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()

	id := p.sinkNext
	p.sinkNext++
	p.sinks[id] = s

	return func() {
		p.sinkMu.Lock()
		defer p.sinkMu.Unlock()

		delete(p.sinks, id)
	}
}

func (p *Provider) sinkList() []ReportSink {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()

	ids := make([]uint64, 0, len(p.sinks))
	for id := range p.sinks {
		ids = append(ids, id)
	}

	// registration order
	slices.Sort(ids)

	out := make([]ReportSink, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.sinks[id])
	}

	return out
}

// Load bulk-loads a snapshot into the empty MDIB. It is only allowed before
// the first commit. The provider keeps its own sequence and instance id; the
// snapshot's MdibVersion is adopted.
func (p *Provider) Load(ctx context.Context, snap mdib.Snapshot) error {
	w, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(w)

	if p.committed.Load() {
		return fmt.Errorf("%w: load after first commit", mdib.ErrAPIUsage)
	}

	v := w.VersionGroup()

	err = w.Load(snap)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}

	for _, d := range w.Descriptors() {
		root, err := w.SourceMds(d.Handle)
		if err != nil {
			return fmt.Errorf("resolving source mds: %w", err)
		}

		d.SourceMds = root
	}

	v.MdibVersion = snap.Version.MdibVersion
	w.SetVersionGroup(v)

	return nil
}

// Begin opens a transaction. It waits until no other transaction is open or
// ctx is done.
//
// A ctx obtained from [Tx.Context] of an open transaction of the same
// provider yields [mdib.ErrAPIUsage] instead of a deadlock. Nesting is only
// detected through that ctx: code running inside a transaction must pass it
// on, a nested Begin with an unrelated ctx waits for the open transaction and
// so deadlocks unless that ctx has a deadline.
//
// The caller must call [Tx.Commit] or [Tx.Rollback]; see [Provider.Transaction]
// for a scoped variant.
func (p *Provider) Begin(ctx context.Context) (*Tx, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx := &Tx{
		p:        p,
		w:        w,
		descr:    make(map[string]*descrOp),
		states:   make(map[string]*stateOp),
		contexts: make(map[string]*stateOp),
	}
	tx.ctx = context.WithValue(ctx, txKey{}, p)

	return tx, nil
}

// Transaction runs fn inside a transaction and commits if fn returns nil.
// On error or panic the transaction is rolled back; a panic is re-raised
// after the lock is released.
func (p *Provider) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (*TransactionResult, error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return nil, err
	}

	defer tx.Rollback()

	err = fn(tx.Context(), tx)
	if err != nil {
		return nil, err
	}

	return tx.Commit()
}

// Close closes the MDIB. It must not be called while a transaction is open.
func (p *Provider) Close() {
	if p.closed.Swap(true) {
		return
	}

	p.mdib.Close()
}

func (p *Provider) acquire(ctx context.Context) (*mdib.Writer, error) {
	if ctx == nil {
		return nil, errors.New("context is nil")
	}

	if p.closed.Load() {
		return nil, mdib.ErrClosed
	}

	if owner, ok := ctx.Value(txKey{}).(*Provider); ok && owner == p {
		return nil, fmt.Errorf("%w: nested transaction", mdib.ErrAPIUsage)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for transaction lock: %w", ctx.Err())
	}

	if p.closed.Load() {
		<-p.sem
		return nil, mdib.ErrClosed
	}

	return p.mdib.Lock(), nil
}

func (p *Provider) release(w *mdib.Writer) {
	w.Unlock()
	<-p.sem
}

func (p *Provider) logCommit(v mdib.VersionGroup, fields logrus.Fields) {
	fields["mdib_version"] = v.MdibVersion
	fields["sequence_id"] = v.SequenceID
	p.log.WithFields(fields).Debug("transaction committed")
}
