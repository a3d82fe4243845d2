package daemon

import (
	"errors"
	"fmt"
	"testing"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/event"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	sharederrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refs(chain []Candidate) []string {
	out := make([]string, 0, len(chain))
	for _, c := range chain {
		out = append(out, c.Ref)
	}
	return out
}

func TestBuildCandidateChainOrdering(t *testing.T) {
	catalog := testCatalog(
		[]string{"b/m2", "ghost/x", "a/m1"},
		map[string][]string{"a": {"m1", "m3"}, "b": {"m2"}},
	)
	chain := BuildCandidateChain(catalog, "a/m3")
	assert.Equal(t, []string{"b/m2", "a/m1", "a/m3"}, refs(chain))
}

func TestBuildCandidateChainProperties(t *testing.T) {
	catalog := testCatalog(
		[]string{"a/m1", "a/m1", "bad", "z/q"},
		map[string][]string{"a": {"m1", "m2"}, "b": {"m9"}},
	)
	for _, requested := range []string{"", "a/m2", "b/m9", "z/q", "a/m1"} {
		chain := BuildCandidateChain(catalog, requested)
		seen := map[string]bool{}
		for _, c := range chain {
			assert.False(t, seen[c.Ref], "duplicate %s", c.Ref)
			seen[c.Ref] = true
			_, ok := catalog.Connection(c.ConnectionID)
			assert.True(t, ok, "unknown connection in %s", c.Ref)
		}
		assert.Equal(t, "a/m1", chain[0].Ref)
	}
	assert.Equal(t, []string{"a/m1", "b/m9", "a/m2"}, refs(BuildCandidateChain(catalog, "b/m9")))
}

// Requested model on a removed connection falls through to a valid one.
func TestJobCompletesOnValidConnectionWhenRequestedIsInvalid(t *testing.T) {
	fx := newFixture(t, testCatalog(nil, map[string][]string{"valid-conn": {"gpt-4o"}}))
	s, err := fx.engine.CreateSession(CreateOptions{Model: "invalid-conn/old-model"})
	require.NoError(t, err)

	chain := BuildCandidateChain(fx.catalog, s.Model)
	assert.NotContains(t, refs(chain), "invalid-conn/old-model")
	assert.Contains(t, refs(chain), "valid-conn/gpt-4o")

	_, err = fx.engine.EnqueueMessage(s.ID, "hello", EnqueueOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, s.ID)

	calls := fx.factory.callsFor(s.ID)
	require.Len(t, calls, 1)
	assert.Equal(t, "valid-conn/gpt-4o", calls[0].Ref)
	bus, _ := fx.engine.Broadcaster(s.ID)
	assert.Equal(t, []event.Type{event.TypeStart, event.TypeChunk, event.TypeDone}, eventTypes(bus.History()))
}

func TestFallbackAdvancesOnConstructionAndCallFailure(t *testing.T) {
	fx := newFixture(t, testCatalog([]string{"a/m", "b/m", "c/m"}, map[string][]string{"a": {"m"}, "b": {"m"}, "c": {"m"}}))
	fx.factory.constructErr["a"] = fmt.Errorf("missing api key: %w", ports.ErrProviderConfig)
	fx.factory.callErr["b/m"] = sharederrors.NewTransientError(errors.New("503"), "overloaded")

	s, _ := fx.engine.CreateSession(CreateOptions{})
	_, err := fx.engine.EnqueueMessage(s.ID, "hi", EnqueueOptions{})
	require.NoError(t, err)
	waitIdle(t, fx.engine, s.ID)

	calls := fx.factory.callsFor(s.ID)
	require.Len(t, calls, 2)
	assert.Equal(t, "b/m", calls[0].Ref)
	assert.Equal(t, "c/m", calls[1].Ref)

	records := fx.usage.all()
	require.Len(t, records, 3, "one usage record per attempt")
	assert.False(t, records[0].Success)
	assert.False(t, records[1].Success)
	assert.True(t, records[2].Success)
	assert.Equal(t, "c", records[2].Connection)
}

func TestChainExhaustionEmitsErrorAndAdvancesQueue(t *testing.T) {
	fx := newFixture(t, testCatalog(nil, map[string][]string{"a": {"m"}}))
	fx.factory.callErr["a/m"] = errors.New("unauthorized")

	s, _ := fx.engine.CreateSession(CreateOptions{})
	_, err := fx.engine.EnqueueMessage(s.ID, "first", EnqueueOptions{})
	require.NoError(t, err)
	_, err = fx.engine.EnqueueMessage(s.ID, "second", EnqueueOptions{})
	require.NoError(t, err)
	snap := waitIdle(t, fx.engine, s.ID)

	bus, _ := fx.engine.Broadcaster(s.ID)
	history := bus.History()
	require.Len(t, history, 2)
	for _, ev := range history {
		errEv, ok := ev.(event.Error)
		require.True(t, ok)
		assert.Contains(t, errEv.Message, "a/m (provider): unauthorized")
	}
	assert.Len(t, fx.factory.callsFor(s.ID), 2, "each job tried once, no retry beyond the chain")
	assert.Empty(t, snap.Messages, "dropped jobs leave no history")
}

func TestChainErrorClassification(t *testing.T) {
	cand := Candidate{Ref: "a/m"}
	err := &ChainError{Failures: []CandidateFailure{
		{Candidate: cand, Reason: classifyConstruction(fmt.Errorf("x: %w", ports.ErrProviderConfig)), Err: errors.New("no key")},
		{Candidate: cand, Reason: classifyCall(sharederrors.NewTransientError(errors.New("reset"), "net")), Err: errors.New("reset")},
		{Candidate: cand, Reason: classifyCall(errors.New("bad request")), Err: errors.New("bad request")},
	}}
	assert.ErrorIs(t, err, ErrChainExhausted)
	assert.Equal(t, ReasonConfig, err.Failures[0].Reason)
	assert.Equal(t, ReasonTransport, err.Failures[1].Reason)
	assert.Equal(t, ReasonProvider, err.Failures[2].Reason)
	assert.Contains(t, err.Error(), "all 3 model candidates failed")

	assert.Contains(t, (&ChainError{}).Error(), "no model candidates")
}
