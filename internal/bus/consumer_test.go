package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garloon/meet-and-greet-server/internal/domain"
)

// --- Fakes ---

type fakeMarker struct {
	seen     map[string]bool
	failWith error
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{seen: make(map[string]bool)}
}

func (f *fakeMarker) MarkDelivered(_ context.Context, messageID string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	if f.seen[messageID] {
		return false, nil
	}
	f.seen[messageID] = true
	return true, nil
}

type fakeLocal struct {
	delivered []domain.Envelope
}

func (f *fakeLocal) DeliverMessage(_ string, env domain.Envelope) {
	f.delivered = append(f.delivered, env)
}

type fakeArchive struct {
	inserted []domain.Envelope
	failWith error
}

func (f *fakeArchive) Insert(_ context.Context, env domain.Envelope) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.inserted = append(f.inserted, env)
	return nil
}

func (f *fakeArchive) PruneOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// fakeMsg implements only the parts of jetstream.Msg the consumer touches.
type fakeMsg struct {
	jetstream.Msg
	data   []byte
	acked  bool
	nakked bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { m.acked = true; return nil }
func (m *fakeMsg) Nak() error   { m.nakked = true; return nil }

func envelopeMsg(t *testing.T, env domain.Envelope) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return &fakeMsg{data: data}
}

// --- Tests ---

func TestProcess_DeliversAndAcks(t *testing.T) {
	marker := newFakeMarker()
	local := &fakeLocal{}
	consumer := NewConsumer(nil, "instance-1", marker, local, nil)

	env := domain.NewEnvelope("lobby", "user-1", "Alice", "hello", time.Now())
	msg := envelopeMsg(t, env)

	consumer.process(context.Background(), msg)

	require.Len(t, local.delivered, 1)
	assert.Equal(t, env.MessageID, local.delivered[0].MessageID)
	assert.Equal(t, "hello", local.delivered[0].Body)
	assert.True(t, msg.acked)
	assert.False(t, msg.nakked)
}

func TestProcess_DuplicateDeliveredOnce(t *testing.T) {
	marker := newFakeMarker()
	local := &fakeLocal{}
	consumer := NewConsumer(nil, "instance-1", marker, local, nil)

	env := domain.NewEnvelope("lobby", "user-1", "Alice", "hello", time.Now())
	first := envelopeMsg(t, env)
	second := envelopeMsg(t, env)

	consumer.process(context.Background(), first)
	consumer.process(context.Background(), second)

	assert.Len(t, local.delivered, 1, "redelivery must not reach clients twice")
	assert.True(t, second.acked, "duplicates are acked, not redelivered forever")
	assert.False(t, second.nakked)
}

func TestProcess_MarkerFailureNaks(t *testing.T) {
	marker := newFakeMarker()
	marker.failWith = fmt.Errorf("%w: setnx: connection refused", domain.ErrStoreUnavailable)
	local := &fakeLocal{}
	consumer := NewConsumer(nil, "instance-1", marker, local, nil)

	msg := envelopeMsg(t, domain.NewEnvelope("lobby", "user-1", "Alice", "hello", time.Now()))
	consumer.process(context.Background(), msg)

	assert.Empty(t, local.delivered, "cannot deliver without a dedup decision")
	assert.True(t, msg.nakked)
	assert.False(t, msg.acked)
}

func TestProcess_PoisonMessageAcked(t *testing.T) {
	marker := newFakeMarker()
	local := &fakeLocal{}
	consumer := NewConsumer(nil, "instance-1", marker, local, nil)

	msg := &fakeMsg{data: []byte("not json")}
	consumer.process(context.Background(), msg)

	assert.Empty(t, local.delivered)
	assert.True(t, msg.acked, "unparsable payloads are dropped, not redelivered")
}

func TestProcess_ArchivesBestEffort(t *testing.T) {
	marker := newFakeMarker()
	local := &fakeLocal{}
	archive := &fakeArchive{}
	consumer := NewConsumer(nil, "instance-1", marker, local, archive)

	env := domain.NewEnvelope("lobby", "user-1", "Alice", "hello", time.Now())
	msg := envelopeMsg(t, env)
	consumer.process(context.Background(), msg)

	require.Len(t, archive.inserted, 1)
	assert.Equal(t, env.MessageID, archive.inserted[0].MessageID)
	assert.True(t, msg.acked)
}

func TestProcess_ArchiveFailureStillDeliversAndAcks(t *testing.T) {
	marker := newFakeMarker()
	local := &fakeLocal{}
	archive := &fakeArchive{failWith: fmt.Errorf("insert failed")}
	consumer := NewConsumer(nil, "instance-1", marker, local, archive)

	msg := envelopeMsg(t, domain.NewEnvelope("lobby", "user-1", "Alice", "hello", time.Now()))
	consumer.process(context.Background(), msg)

	assert.Len(t, local.delivered, 1)
	assert.True(t, msg.acked, "archival is not on the delivery critical path")
}

// markerStore mimics the shared store backing the markers of several
// instances: keys are scoped per instance, exactly like the SetNX keys.
type markerStore struct {
	seen map[string]bool
}

type storeBackedMarker struct {
	store      *markerStore
	instanceID string
}

func (m *storeBackedMarker) MarkDelivered(_ context.Context, messageID string) (bool, error) {
	key := messageID + ":" + m.instanceID
	if m.store.seen[key] {
		return false, nil
	}
	m.store.seen[key] = true
	return true, nil
}

func TestProcess_FanoutAcrossInstances(t *testing.T) {
	store := &markerStore{seen: make(map[string]bool)}
	localA := &fakeLocal{}
	localB := &fakeLocal{}
	consumerA := NewConsumer(nil, "instance-a", &storeBackedMarker{store: store, instanceID: "instance-a"}, localA, nil)
	consumerB := NewConsumer(nil, "instance-b", &storeBackedMarker{store: store, instanceID: "instance-b"}, localB, nil)

	env := domain.NewEnvelope("lobby", "user-1", "Alice", "hello", time.Now())

	// Every instance's durable consumer receives every message and must
	// rebroadcast it to its own clients.
	msgA := envelopeMsg(t, env)
	consumerA.process(context.Background(), msgA)
	msgB := envelopeMsg(t, env)
	consumerB.process(context.Background(), msgB)

	require.Len(t, localA.delivered, 1)
	require.Len(t, localB.delivered, 1, "delivery on one instance must not suppress the others")
	assert.True(t, msgA.acked)
	assert.True(t, msgB.acked)

	// Redelivery to the same instance stays suppressed.
	redelivered := envelopeMsg(t, env)
	consumerB.process(context.Background(), redelivered)
	assert.Len(t, localB.delivered, 1)
	assert.True(t, redelivered.acked)
}

func TestDurableName_SanitizesHostnames(t *testing.T) {
	assert.Equal(t, "fanout-node-1", durableName("node-1"))
	assert.Equal(t, "fanout-node-1-example-com", durableName("node-1.example.com"))
	assert.Equal(t, "fanout-a-b-c", durableName("a.b c"))
}

func TestReady_FalseBeforeRun(t *testing.T) {
	consumer := NewConsumer(nil, "instance-1", newFakeMarker(), &fakeLocal{}, nil)
	assert.False(t, consumer.Ready())
}
