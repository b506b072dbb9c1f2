package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	ctxErr []error
}

func (s *memorySink) Write(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.ctxErr = append(s.ctxErr, ctx.Err())
	return nil
}

func TestEmitterStampsAndDelivers(t *testing.T) {
	sink := &memorySink{}
	emitter := NewEmitter(sink, nil)
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	emitter.Emit(ctx, Event{Type: EventPermissionDenied, Resource: "employees", Action: "read", Outcome: OutcomeDenied})
	cancel()
	emitter.Wait()

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	require.NotEqual(t, uuid.Nil, ev.ID)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), ev.OccurredAt)
	require.NoError(t, sink.ctxErr[0], "delivery must survive request cancellation")
}

func TestEmitterSurvivesSinkFailures(t *testing.T) {
	var calls int
	var mu sync.Mutex
	emitter := NewEmitter(SinkFunc(func(ctx context.Context, event Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		if event.Action == "panic" {
			panic("boom")
		}
		return errors.New("sink down")
	}), nil)

	emitter.Emit(context.Background(), Event{Type: EventBypassAccess, Resource: "r", Action: "read", Outcome: OutcomeAllowed})
	emitter.Emit(context.Background(), Event{Type: EventBypassAccess, Resource: "r", Action: "panic", Outcome: OutcomeAllowed})
	emitter.Wait()
	require.Equal(t, 2, calls)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *Emitter
	emitter.Emit(context.Background(), Event{Type: EventPermissionDenied})
	emitter.Wait()
}

func TestEventValidate(t *testing.T) {
	require.Error(t, Event{}.Validate())
	require.NoError(t, Event{Type: EventCrossTenant, Resource: "employees", Action: "update", Outcome: OutcomeDenied}.Validate())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Event{{
		OccurredAt: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC),
		Type:       EventCrossTenant,
		Outcome:    OutcomeDenied,
		ActorID:    "p-1",
		TenantID:   "t-1",
		Resource:   "employees",
		Action:     "update",
		Entity:     "employees",
		Detail:     map[string]any{"error": "tenant mismatch, rejected"},
	}})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "occurred_at,type,outcome"))
	require.Contains(t, lines[1], "2024-03-10T10:00:00Z,cross_tenant_violation,denied,p-1,t-1,employees,update,employees,,")
	require.Contains(t, lines[1], `"{""error"":""tenant mismatch, rejected""}"`)
}
