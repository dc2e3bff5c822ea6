package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

func sampleRequest() contracts.ActionRequest {
	return contracts.ActionRequest{
		RequestID:   uuid.New(),
		RequestedAt: time.Now().UTC(),
		RequestedBy: "ops-bot",
		Environment: contracts.EnvironmentProd,
		Action:      contracts.ActionServiceRestart,
	}
}

func TestJournal_AppendChains(t *testing.T) {
	j := NewJournal()
	ctx := context.Background()
	req := sampleRequest()

	j.Record(ctx, req, contracts.ActionRecord{RequestID: req.RequestID, Status: contracts.StatusReceived})
	j.Record(ctx, req, contracts.ActionRecord{
		RequestID: req.RequestID,
		Status:    contracts.StatusDenied,
		Summary:   contracts.StringPtr("Denied by policy"),
		Error:     contracts.StringPtr("denied by policy deny list"),
	})

	require.Equal(t, 2, j.Len())
	latest := j.Latest(10)
	require.Len(t, latest, 2)

	assert.Equal(t, uint64(2), latest[0].Sequence)
	assert.Equal(t, contracts.StatusDenied, latest[0].Status)
	assert.Equal(t, "denied by policy deny list", latest[0].Detail)
	assert.Equal(t, latest[1].EntryHash, latest[0].PreviousHash)
	assert.Equal(t, GenesisHash, latest[1].PreviousHash)
	assert.Equal(t, latest[0].EntryHash, j.ChainHead())

	require.NoError(t, j.VerifyChain())
}

func TestJournal_EmptyVerifies(t *testing.T) {
	j := NewJournal()
	require.NoError(t, j.VerifyChain())
	assert.Equal(t, GenesisHash, j.ChainHead())
	assert.Empty(t, j.Latest(5))
}

func TestJournal_TamperDetected(t *testing.T) {
	j := NewJournal()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, Entry{RequestID: uuid.New(), Action: contracts.ActionDockerLogs, Status: contracts.StatusRunning})
		require.NoError(t, err)
	}

	j.mu.Lock()
	j.entries[1].Detail = "rewritten"
	j.mu.Unlock()

	err := j.VerifyChain()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestJournal_CapacityKeepsChainVerifiable(t *testing.T) {
	j := NewJournal(WithCapacity(3))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := j.Append(ctx, Entry{RequestID: uuid.New(), Action: contracts.ActionK8sEvents, Status: contracts.StatusSucceeded})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, j.Len())
	latest := j.Latest(0)
	require.Len(t, latest, 3)
	assert.Equal(t, uint64(10), latest[0].Sequence)
	assert.Equal(t, uint64(8), latest[2].Sequence)
	require.NoError(t, j.VerifyChain())
}

func TestJournal_LatestLimits(t *testing.T) {
	j := NewJournal()
	for i := 0; i < 5; i++ {
		_, err := j.Append(context.Background(), Entry{RequestID: uuid.New(), Status: contracts.StatusReceived})
		require.NoError(t, err)
	}
	assert.Len(t, j.Latest(2), 2)
	assert.Len(t, j.Latest(-1), 5)
	assert.Len(t, j.Latest(50), 5)
}

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memorySink) Write(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) written() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func TestJournal_SinkReceivesEntries(t *testing.T) {
	sink := &memorySink{}
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	j := NewJournal(WithSink(sink), WithClock(func() time.Time { return fixed }))

	e, err := j.Append(context.Background(), Entry{RequestID: uuid.New(), Status: contracts.StatusRunning})
	require.NoError(t, err)
	require.NoError(t, j.Close(context.Background()))

	written := sink.written()
	require.Len(t, written, 1)
	assert.Equal(t, e, written[0])
	assert.Equal(t, fixed, e.Timestamp)
}

func TestJournal_SinkFailureStillAppends(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	j := NewJournal(WithSink(sink))

	_, err := j.Append(context.Background(), Entry{RequestID: uuid.New(), Status: contracts.StatusRunning})
	require.NoError(t, err)

	req := sampleRequest()
	j.Record(context.Background(), req, contracts.ActionRecord{RequestID: req.RequestID, Status: contracts.StatusReceived})
	require.NoError(t, j.Close(context.Background()))
	assert.Equal(t, 2, j.Len())
	require.NoError(t, j.VerifyChain())
	assert.Empty(t, sink.written())
}

type slowSink struct {
	memorySink
	delay time.Duration
}

func (s *slowSink) Write(ctx context.Context, e Entry) error {
	time.Sleep(s.delay)
	return s.memorySink.Write(ctx, e)
}

func TestJournal_AppendDoesNotWaitForSink(t *testing.T) {
	sink := &slowSink{delay: 200 * time.Millisecond}
	j := NewJournal(WithSink(sink))
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := j.Append(ctx, Entry{RequestID: uuid.New(), Status: contracts.StatusRunning})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Cancelling the appending caller does not stop queued writes.
	cancel()
	require.NoError(t, j.Close(context.Background()))

	written := sink.written()
	require.Len(t, written, 3)
	for i, e := range written {
		assert.Equal(t, uint64(i+1), e.Sequence)
	}
	assert.Equal(t, j.ChainHead(), written[2].EntryHash)
}

type gatedSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSink) Write(context.Context, Entry) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return nil
}

func TestJournal_FullSinkQueueReportsBacklog(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	j := NewJournal(WithSink(sink), WithSinkQueue(1))
	ctx := context.Background()

	_, err := j.Append(ctx, Entry{RequestID: uuid.New()})
	require.NoError(t, err)
	<-sink.started

	_, err = j.Append(ctx, Entry{RequestID: uuid.New()})
	require.NoError(t, err)
	_, err = j.Append(ctx, Entry{RequestID: uuid.New()})
	require.ErrorIs(t, err, ErrSinkBacklog)
	assert.Equal(t, 3, j.Len())

	close(sink.release)
	require.NoError(t, j.Close(ctx))
	require.NoError(t, j.VerifyChain())
}

func TestJournal_CloseWithoutSink(t *testing.T) {
	j := NewJournal()
	require.NoError(t, j.Close(context.Background()))
	_, err := j.Append(context.Background(), Entry{RequestID: uuid.New()})
	require.NoError(t, err)
}

func TestJournal_CloseHonoursDeadline(t *testing.T) {
	sink := &gatedSink{started: make(chan struct{}), release: make(chan struct{})}
	j := NewJournal(WithSink(sink))
	_, err := j.Append(context.Background(), Entry{RequestID: uuid.New()})
	require.NoError(t, err)
	<-sink.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, j.Close(ctx), context.DeadlineExceeded)

	close(sink.release)
	require.NoError(t, j.Close(context.Background()))
}
