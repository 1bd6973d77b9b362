package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentsider/live-translation-openai-realtime-api/internal/media"
	"github.com/vincentsider/live-translation-openai-realtime-api/internal/metrics"
)

func testManagerConfig(endpoint *translationEndpoint) ManagerConfig {
	cfg := testRelayConfig(endpoint)
	cfg.CallID = "" // assigned per call by the manager
	return ManagerConfig{Relay: cfg}
}

func TestManagerPairsLegsAndStarts(t *testing.T) {
	endpoint := newTranslationEndpoint(t)

	mgr := NewManager(testManagerConfig(endpoint), testLogger(), metrics.NewMetrics())
	defer mgr.Stop()

	// First leg creates the relay but cannot start it
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionInbound, &fakeLeg{}))
	assert.Equal(t, 1, mgr.ActiveCalls())

	r, ok := mgr.GetRelay("CA1")
	require.True(t, ok)
	assert.Equal(t, "CA1", r.CallID())
	assert.False(t, r.Started())

	// Second leg completes the pair and the relay starts
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionOutbound, &fakeLeg{}))
	assert.True(t, r.Started())
	assert.Equal(t, 1, mgr.ActiveCalls())

	// A different call gets its own relay
	require.NoError(t, mgr.AttachLeg("CA2", media.DirectionOutbound, &fakeLeg{}))
	assert.Equal(t, 2, mgr.ActiveCalls())
	assert.ElementsMatch(t, []string{"CA1", "CA2"}, mgr.CallIDs())
}

func TestManagerStartRaceIsBenign(t *testing.T) {
	endpoint := newTranslationEndpoint(t)

	mgr := NewManager(testManagerConfig(endpoint), testLogger(), metrics.NewMetrics())
	defer mgr.Stop()

	// Both legs attach near-simultaneously: each attach races to start the
	// relay. Recreate the loser's view by starting the relay between its
	// attach and its start attempt.
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionInbound, &fakeLeg{}))
	r, ok := mgr.GetRelay("CA1")
	require.True(t, ok)

	require.NoError(t, r.AttachOutbound(&fakeLeg{}))
	require.NoError(t, r.Start())

	// The losing attach must not report an error: the relay is running and
	// its leg is wired in.
	assert.NoError(t, mgr.startRelay("CA1", r))
	assert.True(t, r.Started())
	assert.Equal(t, 1, mgr.ActiveCalls())
}

func TestManagerRejectsUnknownDirection(t *testing.T) {
	endpoint := newTranslationEndpoint(t)

	mgr := NewManager(testManagerConfig(endpoint), testLogger(), metrics.NewMetrics())
	defer mgr.Stop()

	err := mgr.AttachLeg("CA1", "sideways", &fakeLeg{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown media direction")
}

func TestManagerEndCall(t *testing.T) {
	endpoint := newTranslationEndpoint(t)

	mgr := NewManager(testManagerConfig(endpoint), testLogger(), metrics.NewMetrics())
	defer mgr.Stop()

	inbound := &fakeLeg{}
	outbound := &fakeLeg{}
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionInbound, inbound))
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionOutbound, outbound))

	assert.True(t, mgr.EndCall("CA1"))
	assert.Equal(t, 0, mgr.ActiveCalls())
	assert.True(t, inbound.isClosed())
	assert.True(t, outbound.isClosed())

	// Both legs hanging up at once makes the second teardown a no-op
	assert.False(t, mgr.EndCall("CA1"))
	assert.False(t, mgr.EndCall("CA-unknown"))
}

func TestManagerSweepsUnpairedCalls(t *testing.T) {
	endpoint := newTranslationEndpoint(t)

	cfg := testManagerConfig(endpoint)
	cfg.PairingTimeout = 10 * time.Millisecond
	mgr := NewManager(cfg, testLogger(), metrics.NewMetrics())
	defer mgr.Stop()

	// Paired call, sweep must leave it alone
	require.NoError(t, mgr.AttachLeg("CA-paired", media.DirectionInbound, &fakeLeg{}))
	require.NoError(t, mgr.AttachLeg("CA-paired", media.DirectionOutbound, &fakeLeg{}))

	// Unpaired call past the timeout
	lonely := &fakeLeg{}
	require.NoError(t, mgr.AttachLeg("CA-lonely", media.DirectionInbound, lonely))

	time.Sleep(20 * time.Millisecond)
	mgr.cleanupUnpairedCalls()

	assert.Equal(t, 1, mgr.ActiveCalls())
	_, ok := mgr.GetRelay("CA-lonely")
	assert.False(t, ok)
	assert.True(t, lonely.isClosed())

	_, ok = mgr.GetRelay("CA-paired")
	assert.True(t, ok)
}

func TestManagerStopClosesAllCalls(t *testing.T) {
	endpoint := newTranslationEndpoint(t)

	mgr := NewManager(testManagerConfig(endpoint), testLogger(), metrics.NewMetrics())

	legs := []*fakeLeg{{}, {}, {}, {}}
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionInbound, legs[0]))
	require.NoError(t, mgr.AttachLeg("CA1", media.DirectionOutbound, legs[1]))
	require.NoError(t, mgr.AttachLeg("CA2", media.DirectionInbound, legs[2]))
	require.NoError(t, mgr.AttachLeg("CA2", media.DirectionOutbound, legs[3]))

	mgr.Stop()

	assert.Equal(t, 0, mgr.ActiveCalls())
	for i, leg := range legs {
		assert.True(t, leg.isClosed(), "leg %d not closed", i)
	}
}
