// Package wiggler implements StorageWiggler (spec §4.4): the priority
// queue of storage servers awaiting a rolling restart/replace cycle,
// ordered by (wrongConfigured desc, creationTime asc, id asc) with
// EWMA-smoothed wiggle and round durations. The package does not touch
// system keys itself: FinishWiggle hands the smoothed wiggle duration to
// a caller-supplied persist callback.
//
// The queue itself is grounded on container/heap (Go's standard library):
// none of the example repos implement a decrease-key/removable priority
// queue (see DESIGN.md), so this is the one place DD falls back to the
// standard library rather than a pack dependency. Everything around the
// queue — the server record shape, the EWMA smoothing, and the
// persisted-metrics idiom — is grounded on weed/topology's volume-server
// bookkeeping and on weed/stats' gauge/ewma accounting, generalized to
// per-wiggle-cycle statistics.
package wiggler

import (
	"bytes"
	"container/heap"
	"sync"
	"time"

	"github.com/kakaiu/datadistribution/distribution"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/internal/metrics"
)

// lessServerID breaks ties in priorityQueue.Less by raw id bytes, the
// final tiebreaker spec §3 calls for ("then by ServerId for determinism").
func lessServerID(a, b distribution.ServerID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// ewmaAlpha is the smoothing factor applied to newly observed wiggle and
// round durations: each new sample carries one tenth of the weight.
const ewmaAlpha = 0.1

// entry is one server's wiggle bookkeeping: its ordering metadata, when it
// last started wiggling, and whether it's currently mid-cycle.
type entry struct {
	id         distribution.ServerID
	metadata   distribution.StorageMetadata
	lastUpdate time.Time // used only to bound FinishWiggle's duration measurement
	wiggling   bool
	index      int // maintained by container/heap
}

type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }

// Less implements spec §3's StorageMetadata ordering: wrongConfigured
// servers sort first, then earlier creationTime, then lower ServerId for
// determinism (spec §8 scenario 1).
func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i].metadata, pq[j].metadata
	if a.WrongConfigured != b.WrongConfigured {
		return a.WrongConfigured
	}
	if a.CreationTime != b.CreationTime {
		return a.CreationTime < b.CreationTime
	}
	return lessServerID(pq[i].id, pq[j].id)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*pq = old[:n-1]
	return e
}

// Wiggler is one namespace's StorageWiggler (spec §4.4 distinguishes a
// primary and a remote wiggler — one Wiggler instance per namespace).
type Wiggler struct {
	mu        sync.Mutex
	namespace string
	pq        priorityQueue
	byID      map[distribution.ServerID]*entry
	nonEmpty  bool // mirrors pq.Len() > 0, tracked separately to detect the transition

	avgWiggleDuration time.Duration

	// Round bookkeeping (spec §3 StorageWigglerMetrics, §4.4
	// startWiggle/finishWiggle): a round is one pass in which every
	// currently tracked server gets wiggled exactly once. roundPending
	// counts servers not yet wiggled in the round underway; it is reseeded
	// to the queue length whenever a StartWiggle begins a new round.
	roundPending     int
	lastRoundStart   time.Time
	lastRoundFinish  time.Time
	finishedRound    int
	avgRoundDuration time.Duration
	lastStateChange  time.Time

	metrics *metrics.Wiggler
}

// New builds an empty Wiggler for namespace ("primary" or "remote", per
// config wiggler.namespace.primary/remote).
func New(namespace string) *Wiggler {
	w := &Wiggler{
		namespace: namespace,
		byID:      map[distribution.ServerID]*entry{},
		metrics:   metrics.NewWiggler(namespace),
	}
	heap.Init(&w.pq)
	return w
}

// AddServer inserts id into the queue if absent, ordered by metadata per
// spec §4.4's addServer precondition (id absent) and ordering
// (wrongConfigured desc, creationTime asc, id asc).
func (w *Wiggler) AddServer(id distribution.ServerID, metadata distribution.StorageMetadata, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.byID[id]; ok {
		return
	}
	e := &entry{id: id, metadata: metadata, lastUpdate: now}
	w.byID[id] = e
	heap.Push(&w.pq, e)
	w.noteStateChangeLocked(now)
	w.metrics.SetQueueLength(w.pq.Len())
	glog.V(1).Infof("wiggler[%s]: added server %s, queue length %d", w.namespace, id, w.pq.Len())
}

// RemoveServer drops id from the queue entirely — used when a server is
// excluded or removed from the cluster (spec §4.4).
func (w *Wiggler) RemoveServer(id distribution.ServerID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[id]
	if !ok {
		return
	}
	heap.Remove(&w.pq, e.index)
	delete(w.byID, id)
	w.noteStateChangeLocked(time.Now())
	w.metrics.SetQueueLength(w.pq.Len())
}

// noteStateChangeLocked records lastStateChange the moment the queue flips
// between empty and non-empty, the transition storageWigglerState reports
// as LastStateChangePrimary/Remote (spec §4.5, §6). Must be called with
// w.mu held.
func (w *Wiggler) noteStateChangeLocked(at time.Time) {
	nonEmpty := w.pq.Len() > 0
	if nonEmpty != w.nonEmpty {
		w.nonEmpty = nonEmpty
		w.lastStateChange = at
	}
}

// UpdateMetadata replaces id's StorageMetadata and re-establishes heap
// order, without changing its wiggling state (spec §4.4's
// updateMetadata: e.g. a server flips from wrongConfigured to correctly
// configured and should fall behind servers still wrongConfigured).
func (w *Wiggler) UpdateMetadata(id distribution.ServerID, metadata distribution.StorageMetadata) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[id]
	if !ok {
		return
	}
	e.metadata = metadata
	heap.Fix(&w.pq, e.index)
}

// GetNextServerID returns the highest-priority id that isn't already
// mid-wiggle, or false if the queue is empty or every entry is already
// wiggling (spec §4.4, §8 scenario 1).
func (w *Wiggler) GetNextServerID() (distribution.ServerID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// The heap array only guarantees the root is minimal, not a full
	// ordering, so pop entries off in order until an eligible one turns
	// up, then restore everything popped along the way.
	var popped []*entry
	var found *entry
	for w.pq.Len() > 0 {
		e := heap.Pop(&w.pq).(*entry)
		popped = append(popped, e)
		if !e.wiggling {
			found = e
			break
		}
	}
	for _, e := range popped {
		heap.Push(&w.pq, e)
	}
	if found == nil {
		return distribution.ServerID{}, false
	}
	return found.id, true
}

// StartWiggle marks id as mid-cycle and records startedAt so FinishWiggle
// can compute the cycle's duration. If no round is currently underway,
// this also starts one, recording last_round_start (spec §3, §4.4:
// "record last_wiggle_start; if a new round is starting, also
// last_round_start").
func (w *Wiggler) StartWiggle(id distribution.ServerID, startedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.byID[id]
	if !ok {
		return
	}
	if w.roundPending <= 0 {
		w.roundPending = len(w.byID)
		w.lastRoundStart = startedAt
	}
	e.wiggling = true
	e.lastUpdate = startedAt
	w.metrics.IncWiggleStarted()
}

// FinishWiggle clears id's mid-cycle flag and folds the observed duration
// into the namespace's EWMA average wiggle duration, persisted via
// persist (spec §4.4: "the smoothed average informs how far ahead of
// schedule the wiggler may run"). If this was the last server pending in
// the round underway, it also closes out the round: last_round_finish,
// finished_round, and the smoothed round duration (spec §3, §4.4:
// "if a round completes, do the same for round duration").
func (w *Wiggler) FinishWiggle(id distribution.ServerID, finishedAt time.Time, persist func(avg time.Duration) error) error {
	w.mu.Lock()
	e, ok := w.byID[id]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	duration := finishedAt.Sub(e.lastUpdate)
	e.wiggling = false
	e.lastUpdate = finishedAt
	heap.Fix(&w.pq, e.index)
	w.setTotal(duration)
	avg := w.avgWiggleDuration

	var roundDuration time.Duration
	roundFinished := false
	if w.roundPending > 0 {
		w.roundPending--
		if w.roundPending == 0 {
			w.lastRoundFinish = finishedAt
			w.finishedRound++
			roundDuration = w.lastRoundFinish.Sub(w.lastRoundStart)
			w.setRoundTotal(roundDuration)
			roundFinished = true
		}
	}
	w.mu.Unlock()

	w.metrics.IncWiggleFinished()
	w.metrics.ObserveWiggleDuration(duration)
	if roundFinished {
		w.metrics.ObserveRoundDuration(roundDuration)
	}
	if persist == nil {
		return nil
	}
	return persist(avg)
}

// setTotal folds a newly observed duration into the EWMA, matching the
// "smoothed metric, not a plain running average" requirement of spec
// §4.4. Must be called with w.mu held.
func (w *Wiggler) setTotal(observed time.Duration) {
	if w.avgWiggleDuration == 0 {
		w.avgWiggleDuration = observed
		return
	}
	w.avgWiggleDuration = time.Duration(
		ewmaAlpha*float64(observed) + (1-ewmaAlpha)*float64(w.avgWiggleDuration))
}

// setRoundTotal folds a newly observed round duration into the round EWMA
// (spec §3 smoothed_round_duration). Must be called with w.mu held.
func (w *Wiggler) setRoundTotal(observed time.Duration) {
	if w.avgRoundDuration == 0 {
		w.avgRoundDuration = observed
		return
	}
	w.avgRoundDuration = time.Duration(
		ewmaAlpha*float64(observed) + (1-ewmaAlpha)*float64(w.avgRoundDuration))
}

// RestoreStats seeds the wiggle and round EWMAs from previously persisted
// values, used at startup before the orchestrator has observed any wiggle
// cycles of its own (spec §4.4, §3: resetStats/restoreStats persist both
// smoothed_wiggle_duration and smoothed_round_duration).
func (w *Wiggler) RestoreStats(avgWiggle, avgRound time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.avgWiggleDuration = avgWiggle
	w.avgRoundDuration = avgRound
}

// ResetStats clears both EWMAs back to zero, used when an operator forces
// a wiggle restart (spec §4.4).
func (w *Wiggler) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.avgWiggleDuration = 0
	w.avgRoundDuration = 0
}

// AverageWiggleDuration returns the current per-wiggle EWMA estimate.
func (w *Wiggler) AverageWiggleDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.avgWiggleDuration
}

// AverageRoundDuration returns the current per-round EWMA estimate.
func (w *Wiggler) AverageRoundDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.avgRoundDuration
}

// LastStateChange reports when the queue last flipped between empty and
// non-empty, the value storageWigglerState reports as
// LastStateChangePrimary/LastStateChangeRemote (spec §6).
func (w *Wiggler) LastStateChange() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastStateChange
}

// Len reports the number of tracked servers, mid-wiggle or not.
func (w *Wiggler) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pq.Len()
}
