// Package consumer keeps a client-side replica of a remote MDIB in sync with
// the reports the device sends.
//
// Reports arrive already decoded (see package reports), possibly reordered,
// duplicated, with gaps, or from a new epoch after a device restart. Every
// report runs through version acceptance and a per-state version policy under
// one mutation lock, so two concurrently delivered reports never interleave.
// Nothing that would break the replica's invariants is applied; conflicts,
// gaps and epoch changes are logged and surfaced through [Consumer.Status]
// and the observables, never returned as errors.
//
// There is no automatic resynchronization. After a gap or an epoch change the
// caller decides whether to fetch a new snapshot and call [Consumer.Reload].
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/Draegerwerk/sdc11073-sub000/internal/notify"
	"github.com/Draegerwerk/sdc11073-sub000/internal/ringbuf"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
	"github.com/Draegerwerk/sdc11073-sub000/pkg/reports"
)

// Policy decides what happens to reports that arrive before Initialize.
type Policy int

const (
	// PolicyBuffer queues reports and replays them in arrival order once
	// the snapshot is applied.
	PolicyBuffer Policy = iota

	// PolicyBlock makes Apply wait until Initialize completes.
	PolicyBlock
)

func (p Policy) String() string {
	switch p {
	case PolicyBuffer:
		return "buffer"
	case PolicyBlock:
		return "block"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Config configures a [Consumer].
type Config struct {
	Policy Policy

	// WaveformCapacity is the number of samples kept per real-time metric.
	// Defaults to [DefaultWaveformCapacity].
	WaveformCapacity int

	// ExpectGaps suppresses gap warnings. Set it when some report
	// subscriptions were deliberately left out, so version jumps are normal.
	ExpectGaps bool

	// DataModel defaults to [mdib.BICEPS].
	DataModel mdib.DataModel

	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// Outcome describes what Apply did with one report.
type Outcome struct {
	// Buffered is set when the report was queued for replay.
	Buffered bool

	// Replayed is set for reports applied from the pre-initialization queue.
	Replayed bool

	// Stale is set when the report was dropped for an older MdibVersion.
	Stale bool

	// EpochChanged is set when the report carried a new sequence id.
	EpochChanged bool

	// Gap is set when MdibVersions were skipped and gaps are not expected.
	Gap bool

	// Applied, Rejected and Recovered count items (states or descriptors).
	// Recovered items were inserted without the create that should have
	// preceded them.
	Applied   int
	Rejected  int
	Recovered int
}

// Consumer owns a replica MDIB and applies reports to it.
type Consumer struct {
	cfg Config
	log *logrus.Logger

	// mu is the single mutation lock. It guards everything below up to obsMu.
	mu          sync.Mutex
	initialized bool
	pending     []reports.Report
	initOnce    sync.Once
	initDone    chan struct{}

	replica atomic.Pointer[mdib.Mdib]

	// obsMu guards the observables, read without taking mu.
	obsMu       sync.RWMutex
	waveforms   map[string]*ringbuf.Buffer[Sample]
	lastChanged map[mdib.Category]map[string]*mdib.State
	lastDescr   DescriptorChanges
	stats       counters

	changes *notify.Hub[Change]
	monitor *notify.Monitor
	closed  atomic.Bool
	done    chan struct{}
}

type counters struct {
	epochChanges uint64
	gaps         uint64
	stale        uint64
	rejected     uint64
	recovered    uint64
	orphans      []string
}

// New returns an uninitialized consumer.
func New(cfg Config) (*Consumer, error) {
	if cfg.Policy != PolicyBuffer && cfg.Policy != PolicyBlock {
		return nil, fmt.Errorf("unknown policy %d", int(cfg.Policy))
	}

	if cfg.WaveformCapacity == 0 {
		cfg.WaveformCapacity = DefaultWaveformCapacity
	}

	if cfg.WaveformCapacity < 0 {
		return nil, fmt.Errorf("waveform capacity must be positive, got %d", cfg.WaveformCapacity)
	}

	if cfg.DataModel == (mdib.DataModel{}) {
		cfg.DataModel = mdib.BICEPS
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Consumer{
		cfg:         cfg,
		log:         cfg.Logger,
		initDone:    make(chan struct{}),
		waveforms:   make(map[string]*ringbuf.Buffer[Sample]),
		lastChanged: make(map[mdib.Category]map[string]*mdib.State),
		changes:     notify.NewHub[Change](),
		monitor:     notify.NewMonitor(),
		done:        make(chan struct{}),
	}, nil
}

// Mdib returns the replica for reading, or nil before Initialize.
func (c *Consumer) Mdib() *mdib.Mdib {
	return c.replica.Load()
}

// Initialized reports whether the bootstrap snapshot was applied.
func (c *Consumer) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.initialized
}

// Initialize applies the bootstrap snapshot and then replays buffered reports
// in arrival order. It returns [mdib.ErrAPIUsage] when called twice.
func (c *Consumer) Initialize(snap mdib.Snapshot) error {
	if c.closed.Load() {
		return mdib.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return fmt.Errorf("%w: already initialized", mdib.ErrAPIUsage)
	}

	return c.loadLocked(snap)
}

// Reload is the explicit recovery path: both stores and all bookkeeping are
// cleared and snap is applied as if freshly initialized.
func (c *Consumer) Reload(snap mdib.Snapshot) error {
	if c.closed.Load() {
		return mdib.ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loadLocked(snap)
}

func (c *Consumer) loadLocked(snap mdib.Snapshot) error {
	if snap.Version.SequenceID == "" {
		return fmt.Errorf("%w: snapshot has no sequence id", mdib.ErrAPIUsage)
	}

	err := snap.Validate()
	if err != nil {
		return fmt.Errorf("validating snapshot: %w", err)
	}

	replica := c.replica.Load()
	if replica == nil {
		replica, err = mdib.New(snap.Version.SequenceID, mdib.Config{DataModel: c.cfg.DataModel, Logger: c.log})
		if err != nil {
			return err
		}
	}

	w := replica.Lock()
	w.Clear()

	err = w.Load(snap)
	if err != nil {
		w.Unlock()
		return fmt.Errorf("loading snapshot: %w", err)
	}

	c.resetObservables()

	for _, s := range snap.States {
		if s.NodeType.IsRealTime() && s.SampleArray != nil {
			c.appendSamples(w, s)
		}
	}

	w.Unlock()

	c.replica.Store(replica)
	c.initialized = true
	c.initOnce.Do(func() { close(c.initDone) })

	pending := c.pending
	c.pending = nil

	c.log.WithFields(logrus.Fields{
		"mdib_version": snap.Version.MdibVersion,
		"sequence_id":  snap.Version.SequenceID,
		"descriptors":  len(snap.Descriptors),
		"buffered":     len(pending),
	}).Info("replica initialized")

	for _, r := range pending {
		c.applyLocked(r, true)
	}

	c.monitor.Notify()

	return nil
}

// Apply runs one decoded report through version acceptance and the per-state
// policy.
//
// Before initialization the report is queued ([PolicyBuffer]) or Apply waits
// for Initialize or ctx ([PolicyBlock]). Errors are only returned for usage
// problems; everything about the report's content is reported in the Outcome.
func (c *Consumer) Apply(ctx context.Context, report reports.Report) (Outcome, error) {
	if ctx == nil {
		return Outcome{}, errors.New("context is nil")
	}

	if report == nil {
		return Outcome{}, fmt.Errorf("%w: report is nil", mdib.ErrAPIUsage)
	}

	if c.closed.Load() {
		return Outcome{}, mdib.ErrClosed
	}

	c.mu.Lock()

	if !c.initialized {
		if c.cfg.Policy == PolicyBuffer {
			c.pending = append(c.pending, report)
			c.mu.Unlock()

			c.log.WithFields(logrus.Fields{
				"kind":         report.Kind().String(),
				"mdib_version": report.VersionGroup().MdibVersion,
			}).Debug("report buffered until initialization")

			return Outcome{Buffered: true}, nil
		}

		c.mu.Unlock()

		select {
		case <-c.initDone:
		case <-c.done:
			return Outcome{}, mdib.ErrClosed
		case <-ctx.Done():
			return Outcome{}, fmt.Errorf("waiting for initialization: %w", ctx.Err())
		}

		c.mu.Lock()
	}

	defer c.mu.Unlock()

	if c.closed.Load() {
		return Outcome{}, mdib.ErrClosed
	}

	return c.applyLocked(report, false), nil
}

// Pending returns the number of reports waiting for initialization.
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Close releases subscriptions and the replica. Callers waiting in
// [Consumer.WaitForState] or in a blocked Apply return [mdib.ErrClosed]. It
// must not be called while an Apply is running or an Initialize is in flight.
func (c *Consumer) Close() {
	if c.closed.Swap(true) {
		return
	}

	close(c.done)
	c.monitor.Notify()

	c.changes.CloseAll()

	if r := c.replica.Load(); r != nil {
		r.Close()
	}
}
