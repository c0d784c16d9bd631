package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rubiojr/geolocator/pkg/geo"
	"github.com/rubiojr/geolocator/pkg/logger"
)

const (
	DefaultQueueSize     = 64
	DefaultRemoteTimeout = 3 * time.Second
)

// Options tune a Recorder. Zero values take the defaults.
type Options struct {
	QueueSize     int
	RemoteTimeout time.Duration
	Metrics       *Metrics
	Now           func() time.Time
}

// RadiusResult distinguishes "no remote store" from "nothing nearby".
type RadiusResult struct {
	Available bool          `json:"available"`
	Matches   []RadiusMatch `json:"matches"`
}

type remoteJob struct {
	table string
	rec   RemoteRecord
}

// Recorder writes searches to the local store and mirrors them to the
// remote store off the caller's path, through a bounded queue drained by a
// single worker.
type Recorder struct {
	local   *Local
	remote  RemoteSpatialStore
	metrics *Metrics
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan remoteJob
	wg     sync.WaitGroup
}

// NewRecorder wires local and remote. A nil remote behaves as Unavailable.
func NewRecorder(local *Local, remote RemoteSpatialStore, opts Options) *Recorder {
	if remote == nil {
		remote = Unavailable{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Recorder{
		local:   local,
		remote:  remote,
		metrics: opts.Metrics,
		timeout: opts.RemoteTimeout,
		now:     opts.Now,
		queue:   make(chan remoteJob, opts.QueueSize),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Local returns the local store.
func (r *Recorder) Local() *Local { return r.local }

// Remote returns the remote store.
func (r *Recorder) Remote() RemoteSpatialStore { return r.remote }

// Metrics returns the recorder's metrics.
func (r *Recorder) Metrics() *Metrics { return r.metrics }

// RecordSearch logs e locally and bumps today's statistic. Only a local
// failure is returned; the remote copy is queued and may be dropped.
func (r *Recorder) RecordSearch(ctx context.Context, e SearchEntry) (SearchEntry, error) {
	if e.SearchedAt.IsZero() {
		e.SearchedAt = r.now()
	}
	start := time.Now()
	saved, err := r.local.RecordSearch(ctx, e)
	r.metrics.observeLocal(time.Since(start))
	if err != nil {
		return saved, err
	}
	r.metrics.incSearch(saved.Kind)

	r.enqueue(remoteJob{table: TableSearchLocations, rec: RemoteRecord{
		Name:      saved.Name,
		Kind:      string(saved.Kind),
		Lat:       saved.Lat,
		Lon:       saved.Lon,
		CreatedAt: saved.SearchedAt,
	}})
	return saved, nil
}

func (r *Recorder) enqueue(job remoteJob) {
	if !r.remote.Supported() {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.incRemote(remoteDropped)
		return
	}
	select {
	case r.queue <- job:
	default:
		r.metrics.incRemote(remoteDropped)
		logger.Debug("remote queue full, dropping %s row %q", job.table, job.rec.Name)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.remote.InsertLocation(ctx, job.table, job.rec)
		cancel()
		if err != nil {
			r.metrics.incRemote(remoteFailed)
			logger.Debug("remote insert into %s failed: %v", job.table, err)
			continue
		}
		r.metrics.incRemote(remoteOK)
	}
}

// StorePoint inserts p into the remote points table, waiting at most the
// remote timeout. It reports whether the row was written.
func (r *Recorder) StorePoint(ctx context.Context, p geo.GeoPoint) bool {
	if !r.remote.Supported() {
		return false
	}
	if err := p.Validate(); err != nil {
		logger.Debug("store point: %v", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	created := p.Time
	if created.IsZero() {
		created = r.now()
	}
	err := r.remote.InsertLocation(ctx, TablePoints, RemoteRecord{
		Name:        p.Name,
		Description: p.Description,
		Lat:         p.Lat,
		Lon:         p.Lon,
		CreatedAt:   created,
	})
	if err != nil {
		r.metrics.incRemote(remoteFailed)
		logger.Debug("remote point insert failed: %v", err)
		return false
	}
	r.metrics.incRemote(remoteOK)
	return true
}

// FindWithinRadius queries the remote store. Without one, or when the query
// fails, the result is marked unavailable; only bad input is an error.
func (r *Recorder) FindWithinRadius(ctx context.Context, table string, center geo.GeoPoint, meters float64) (RadiusResult, error) {
	if err := center.Validate(); err != nil {
		return RadiusResult{}, err
	}
	if meters <= 0 || math.IsNaN(meters) || math.IsInf(meters, 0) {
		return RadiusResult{}, fmt.Errorf("%w: radius %v", geo.ErrInvalidCoordinate, meters)
	}
	if err := checkTable(table); err != nil {
		return RadiusResult{}, err
	}
	if !r.remote.Supported() {
		return RadiusResult{Available: false, Matches: []RadiusMatch{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	matches, err := r.remote.WithinRadius(ctx, table, center, meters)
	if err != nil {
		logger.Error("radius query on %s failed: %v", table, err)
		return RadiusResult{Available: false, Matches: []RadiusMatch{}}, nil
	}
	if matches == nil {
		matches = []RadiusMatch{}
	}
	return RadiusResult{Available: true, Matches: matches}, nil
}

// Close drains pending remote writes, then closes both stores.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	if err := r.remote.Close(); err != nil {
		logger.Debug("remote close: %v", err)
	}
	if r.local != nil {
		return r.local.Close()
	}
	return nil
}
