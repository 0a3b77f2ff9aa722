package search

import (
	"container/heap"
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/keyspace"
	"github.com/frebib/kipa/internal/model"
)

// Engine runs one parallel greedy best-first search at a time per call to
// Run; a single Engine value is safe to reuse (and to call Run on
// concurrently) since all its mutable state lives on the stack of each
// Run call.
type Engine struct {
	maxThreads   int
	probeTimeout time.Duration
	deadline     time.Duration
	log          *zap.Logger
}

// New constructs an Engine. maxThreads bounds concurrent in-flight probes,
// probeTimeout bounds a single probe, deadline bounds the whole run (spec
// section 4.7 inputs).
func New(maxThreads int, probeTimeout, deadline time.Duration, log *zap.Logger) *Engine {
	return &Engine{maxThreads: maxThreads, probeTimeout: probeTimeout, deadline: deadline, log: log}
}

// event is what a probe worker reports back to the run loop.
type event struct {
	node       model.Node
	neighbours []model.Node
	fatalErr   error
}

// Run explores the overlay toward destination starting from
// initialFrontier, invoking onFound whenever a node is newly added to the
// found set and onExplored once a probe of that node completes (spec
// section 4.7). When a probe completes, onFound runs for each node it
// newly reported before onExplored runs for the probed node. It returns the Result of whichever callback first returns
// Finish, or (nil, nil) if the frontier is exhausted or the deadline
// passes without either callback finishing the search, or (nil, err) if a
// callback returns Fail or a probe reports a non-External error.
func (e *Engine) Run(
	ctx context.Context,
	destination keyspace.Coordinate,
	initialFrontier []model.Node,
	onFound, onExplored Callback,
	probe ProbeFunc,
) (*model.Node, error) {
	if len(initialFrontier) == 0 {
		return nil, kerr.Internal(nil, "search started with an empty initial frontier")
	}

	runID := uuid.New()
	log := e.log.With(zap.String("search_run", runID.String()))

	runCtx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()
	searchCtx, searchCancel := context.WithCancel(runCtx)
	defer searchCancel()

	toExplore := &frontierHeap{}
	heap.Init(toExplore)
	found := map[string]bool{}
	events := make(chan event)

	push := func(n model.Node) {
		found[n.Key.Fingerprint()] = true
		heap.Push(toExplore, frontierItem{node: n, distance: keyspace.Distance(destination, n.Key.Coordinate())})
	}

	for _, n := range initialFrontier {
		fp := n.Key.Fingerprint()
		if found[fp] {
			continue
		}
		push(n)
		if result, err, done := e.applyOutcome(onFound(n), searchCancel); done {
			log.Debug("search finished while seeding initial frontier")
			return result, err
		}
	}

	inflight := 0
	for {
		for toExplore.Len() > 0 && inflight < e.maxThreads {
			item := heap.Pop(toExplore).(frontierItem)
			inflight++
			go e.runProbe(searchCtx, item.node, probe, events)
		}

		if inflight == 0 && toExplore.Len() == 0 {
			log.Debug("search exhausted its frontier without a terminal callback")
			return nil, nil
		}

		select {
		case <-runCtx.Done():
			log.Debug("search deadline elapsed")
			return nil, nil

		case ev := <-events:
			inflight--
			if ev.fatalErr != nil {
				searchCancel()
				return nil, ev.fatalErr
			}
			for _, n := range ev.neighbours {
				if found[n.Key.Fingerprint()] {
					continue
				}
				push(n)
				if result, err, done := e.applyOutcome(onFound(n), searchCancel); done {
					return result, err
				}
			}

			if result, err, done := e.applyOutcome(onExplored(ev.node), searchCancel); done {
				return result, err
			}
		}
	}
}

// applyOutcome maps a callback Outcome onto a (result, err, terminal) triple,
// cancelling outstanding probes whenever the search is about to terminate.
func (e *Engine) applyOutcome(o Outcome, cancel context.CancelFunc) (*model.Node, error, bool) {
	switch o.Decision {
	case Finish:
		cancel()
		return o.Result, nil, true
	case Fail:
		cancel()
		return nil, o.Err, true
	default:
		return nil, nil, false
	}
}

// runProbe executes one probe and reports its outcome on events, but gives
// up on reporting (rather than blocking forever) once ctx is done — this
// is how the engine discards results from probes it has already decided
// to abandon.
func (e *Engine) runProbe(ctx context.Context, node model.Node, probe ProbeFunc, events chan<- event) {
	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	neighbours, err := probe(probeCtx, node)

	ev := event{node: node}
	if err != nil {
		if kerr.KindOf(err) == kerr.KindExternal {
			ev.neighbours = nil
		} else {
			ev.fatalErr = err
		}
	} else {
		ev.neighbours = neighbours
	}

	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
