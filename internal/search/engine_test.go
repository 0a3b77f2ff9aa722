package search_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frebib/kipa/internal/kerr"
	"github.com/frebib/kipa/internal/model"
	"github.com/frebib/kipa/internal/search"
)

func keyFor(seed string) model.Key {
	return model.NewKey([]byte(seed), seed)
}

func nodeFor(seed string, port uint16) model.Node {
	return model.Node{Key: keyFor(seed), Address: model.Address{IP: net.ParseIP("10.0.0.1"), Port: port}}
}

// linearGraph builds a deterministic probe function over a chain
// seed0 -> seed1 -> ... -> seedN-1, where probing node i reports node i+1
// as its only neighbour (the last node reports none).
func linearGraph(seeds []string) search.ProbeFunc {
	return func(_ context.Context, node model.Node) ([]model.Node, error) {
		for i, s := range seeds {
			if node.Key.Equal(keyFor(s)) && i+1 < len(seeds) {
				return []model.Node{nodeFor(seeds[i+1], uint16(i+2))}, nil
			}
		}
		return nil, nil
	}
}

func newEngine(maxThreads int) *search.Engine {
	return search.New(maxThreads, time.Second, 5*time.Second, zap.NewNop())
}

// TestRunFindsTargetAndStopsOnceExploredAfterFound covers spec section 8
// scenario: search converges along the chain, on_found records the target
// when a probe reports it, and the next on_explored call ends the run with it.
func TestRunFindsTargetAndStopsOnceExploredAfterFound(t *testing.T) {
	seeds := []string{"n0", "n1", "n2", "target"}
	e := newEngine(4)

	targetKey := keyFor("target")
	destination := targetKey.Coordinate()

	var mu sync.Mutex
	var foundTarget *model.Node

	onFound := func(n model.Node) search.Outcome {
		mu.Lock()
		defer mu.Unlock()
		if n.Key.Equal(targetKey) {
			cp := n
			foundTarget = &cp
		}
		return search.ContinueOutcome()
	}
	onExplored := func(n model.Node) search.Outcome {
		mu.Lock()
		defer mu.Unlock()
		if foundTarget != nil {
			return search.FinishOutcome(foundTarget)
		}
		return search.ContinueOutcome()
	}

	result, err := e.Run(context.Background(), destination, []model.Node{nodeFor(seeds[0], 1)}, onFound, onExplored, linearGraph(seeds))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Key.Equal(targetKey))
}

// TestRunToleratesCorruptedPeer covers spec section 8 scenario: a probe
// that errors with kerr.External is absorbed, not fatal, and the search
// keeps going through the remaining frontier.
func TestRunToleratesCorruptedPeer(t *testing.T) {
	seeds := []string{"n0", "n1", "n2", "target"}
	e := newEngine(4)

	probe := func(ctx context.Context, node model.Node) ([]model.Node, error) {
		if node.Key.Equal(keyFor("bad")) {
			return nil, kerr.External(nil, "peer unreachable")
		}
		return linearGraph(seeds)(ctx, node)
	}

	targetKey := keyFor("target")
	var mu sync.Mutex
	var foundTarget *model.Node
	onFound := func(n model.Node) search.Outcome {
		mu.Lock()
		defer mu.Unlock()
		if n.Key.Equal(targetKey) {
			cp := n
			foundTarget = &cp
		}
		return search.ContinueOutcome()
	}
	onExplored := func(n model.Node) search.Outcome {
		mu.Lock()
		defer mu.Unlock()
		if foundTarget != nil {
			return search.FinishOutcome(foundTarget)
		}
		return search.ContinueOutcome()
	}

	frontier := []model.Node{nodeFor("bad", 9), nodeFor(seeds[0], 1)}
	result, err := e.Run(context.Background(), targetKey.Coordinate(), frontier, onFound, onExplored, probe)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Key.Equal(targetKey))
}

// TestRunExhaustsFrontierWithoutFindingTarget covers the "not found"
// terminal case: every reachable node is explored, neither callback ever
// returns Finish, and Run reports (nil, nil).
func TestRunExhaustsFrontierWithoutFindingTarget(t *testing.T) {
	seeds := []string{"n0", "n1", "n2"}
	e := newEngine(4)

	alwaysContinue := func(model.Node) search.Outcome { return search.ContinueOutcome() }

	result, err := e.Run(context.Background(), keyFor("unreachable-target").Coordinate(),
		[]model.Node{nodeFor(seeds[0], 1)}, alwaysContinue, alwaysContinue, linearGraph(seeds))
	require.NoError(t, err)
	assert.Nil(t, result)
}

// TestRunPropagatesFatalProbeError covers failure case (c): a
// non-External probe error (e.g. configuration) aborts the whole search.
func TestRunPropagatesFatalProbeError(t *testing.T) {
	e := newEngine(4)
	wantErr := kerr.Configuration(nil, "crypto provider unusable")

	probe := func(context.Context, model.Node) ([]model.Node, error) {
		return nil, wantErr
	}
	alwaysContinue := func(model.Node) search.Outcome { return search.ContinueOutcome() }

	result, err := e.Run(context.Background(), keyFor("target").Coordinate(),
		[]model.Node{nodeFor("n0", 1)}, alwaysContinue, alwaysContinue, probe)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, wantErr)
}

// TestRunPropagatesCallbackFailure covers an on_explored callback that
// decides the search itself has failed (e.g. a malformed response it
// cannot recover from).
func TestRunPropagatesCallbackFailure(t *testing.T) {
	seeds := []string{"n0", "n1"}
	e := newEngine(4)
	wantErr := kerr.Internal(nil, "response decode failed")

	onFound := func(model.Node) search.Outcome { return search.ContinueOutcome() }
	onExplored := func(model.Node) search.Outcome { return search.FailOutcome(wantErr) }

	result, err := e.Run(context.Background(), keyFor("target").Coordinate(),
		[]model.Node{nodeFor(seeds[0], 1)}, onFound, onExplored, linearGraph(seeds))
	assert.Nil(t, result)
	assert.ErrorIs(t, err, wantErr)
}

// TestRunRejectsEmptyInitialFrontier covers failure case (b): no progress
// is possible because the caller supplied no starting points at all.
func TestRunRejectsEmptyInitialFrontier(t *testing.T) {
	e := newEngine(4)
	alwaysContinue := func(model.Node) search.Outcome { return search.ContinueOutcome() }

	_, err := e.Run(context.Background(), keyFor("target").Coordinate(), nil, alwaysContinue, alwaysContinue,
		func(context.Context, model.Node) ([]model.Node, error) { return nil, nil })
	assert.Error(t, err)
}

// TestRunRespectsMaxThreads bounds the number of concurrently in-flight
// probes to maxThreads, verified by a probe function that counts its own
// concurrent callers.
func TestRunRespectsMaxThreads(t *testing.T) {
	const maxThreads = 2
	e := newEngine(maxThreads)

	var mu sync.Mutex
	current, peak := 0, 0
	release := make(chan struct{})

	probe := func(ctx context.Context, node model.Node) ([]model.Node, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		select {
		case <-release:
		case <-ctx.Done():
		}

		mu.Lock()
		current--
		mu.Unlock()
		return nil, nil
	}

	frontier := make([]model.Node, 10)
	for i := range frontier {
		frontier[i] = nodeFor("branch-"+string(rune('a'+i)), uint16(i+1))
	}

	alwaysContinue := func(model.Node) search.Outcome { return search.ContinueOutcome() }

	done := make(chan struct{})
	go func() {
		_, _ = e.Run(context.Background(), keyFor("target").Coordinate(), frontier, alwaysContinue, alwaysContinue, probe)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, maxThreads)
}
