package notify

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/mroshb/clan_portal/internal/repositories"
	"github.com/mroshb/clan_portal/internal/testutil"
)

type flakySink struct {
	failures int
	calls    int
	grants   []RoleGrant
}

func (s *flakySink) AnnounceNewApplication(ctx context.Context, app ApplicationPayload) error {
	return s.call()
}

func (s *flakySink) AnnounceStatusChange(ctx context.Context, app ApplicationPayload) error {
	return s.call()
}

func (s *flakySink) GrantRoles(ctx context.Context, grant RoleGrant) error {
	if err := s.call(); err != nil {
		return err
	}
	s.grants = append(s.grants, grant)
	return nil
}

func (s *flakySink) call() error {
	s.calls++
	if s.calls <= s.failures {
		return stderrors.New("chat unreachable")
	}
	return nil
}

type panicSink struct{ flakySink }

func (s *panicSink) GrantRoles(ctx context.Context, grant RoleGrant) error {
	panic("boom")
}

func newTestDispatcher(t *testing.T, opts Options) (*Dispatcher, *repositories.Store, *time.Time) {
	t.Helper()
	store := repositories.NewStore(testutil.OpenDB(t))
	d := NewDispatcher(store.Outbox, opts)

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }
	return d, store, &clock
}

func grantEvent() Event {
	return Event{
		Kind:  KindRolesGrant,
		Grant: &RoleGrant{ApplicationID: 1, TelegramID: 42, VillageName: "Konoha", ClanName: "Uchiha"},
	}
}

func TestDispatcher_PublishWritesOneRowPerSink(t *testing.T) {
	d, store, _ := newTestDispatcher(t, Options{})
	d.RegisterSink("telegram", &flakySink{})
	d.RegisterSink("amqp", &flakySink{})

	ctx := context.Background()
	ev := grantEvent()
	ev.Key = "key-1"
	if err := d.Publish(ctx, store.Outbox, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	rows, err := store.Outbox.ListEvents(ctx, "key-1")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Sink != "amqp" || rows[1].Sink != "telegram" {
		t.Errorf("sinks = %s, %s", rows[0].Sink, rows[1].Sink)
	}
}

func TestDispatcher_PublishRejectsInvalidEvent(t *testing.T) {
	d, store, _ := newTestDispatcher(t, Options{})
	d.RegisterSink("telegram", &flakySink{})

	err := d.Publish(context.Background(), store.Outbox, Event{Kind: KindRolesGrant})
	if err == nil {
		t.Error("Publish() expected error for grant event without payload")
	}
}

func TestDispatcher_PublishRollsBackWithTransaction(t *testing.T) {
	d, store, _ := newTestDispatcher(t, Options{})
	d.RegisterSink("telegram", &flakySink{})

	ctx := context.Background()
	ev := grantEvent()
	ev.Key = "rolled-back"

	_ = store.Transaction(ctx, func(tx *repositories.Store) error {
		if err := d.Publish(ctx, tx.Outbox, ev); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		return stderrors.New("abort")
	})

	rows, err := store.Outbox.ListEvents(ctx, "rolled-back")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows after rollback, want 0", len(rows))
	}
}

func TestDispatcher_DeliversAfterRetries(t *testing.T) {
	d, store, clock := newTestDispatcher(t, Options{Backoff: time.Second, MaxAttempts: 5})
	sink := &flakySink{failures: 2}
	d.RegisterSink("telegram", sink)

	ctx := context.Background()
	ev := grantEvent()
	ev.Key = "retry"
	if err := d.Publish(ctx, store.Outbox, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	delivered, err := d.DispatchOnce(ctx)
	if err != nil || delivered != 0 {
		t.Fatalf("first DispatchOnce() = %d, %v; want 0, nil", delivered, err)
	}

	// Not due yet: the first retry waits one backoff.
	if delivered, _ := d.DispatchOnce(ctx); delivered != 0 || sink.calls != 1 {
		t.Fatalf("DispatchOnce() before backoff delivered=%d calls=%d", delivered, sink.calls)
	}

	*clock = clock.Add(time.Second)
	if delivered, _ := d.DispatchOnce(ctx); delivered != 0 {
		t.Fatalf("second attempt delivered = %d, want 0", delivered)
	}

	*clock = clock.Add(2 * time.Second)
	if delivered, _ := d.DispatchOnce(ctx); delivered != 1 {
		t.Fatalf("third attempt delivered = %d, want 1", delivered)
	}

	rows, _ := store.Outbox.ListEvents(ctx, "retry")
	if len(rows) != 1 || rows[0].DeliveredAt == nil || rows[0].Attempts != 3 {
		t.Fatalf("row after delivery = %+v", rows)
	}
	if len(sink.grants) != 1 || sink.grants[0].VillageName != "Konoha" {
		t.Errorf("grants = %+v", sink.grants)
	}

	// Delivered rows are never claimed again.
	*clock = clock.Add(time.Hour)
	if delivered, _ := d.DispatchOnce(ctx); delivered != 0 || sink.calls != 3 {
		t.Errorf("redelivered: delivered=%d calls=%d", delivered, sink.calls)
	}
}

func TestDispatcher_MarksFailedAfterMaxAttempts(t *testing.T) {
	d, store, clock := newTestDispatcher(t, Options{Backoff: time.Second, MaxAttempts: 2})
	d.RegisterSink("telegram", &flakySink{failures: 100})

	ctx := context.Background()
	ev := grantEvent()
	ev.Key = "doomed"
	if err := d.Publish(ctx, store.Outbox, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	_, _ = d.DispatchOnce(ctx)
	*clock = clock.Add(time.Minute)
	_, _ = d.DispatchOnce(ctx)

	rows, _ := store.Outbox.ListEvents(ctx, "doomed")
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].FailedAt == nil || rows[0].Attempts != 2 || rows[0].LastError != "chat unreachable" {
		t.Errorf("row = %+v, want failed after 2 attempts", rows[0])
	}

	pending, _ := store.Outbox.CountPending(ctx)
	if pending != 0 {
		t.Errorf("CountPending() = %d, want 0", pending)
	}
}

func TestDispatcher_RecoversFromSinkPanic(t *testing.T) {
	d, store, _ := newTestDispatcher(t, Options{MaxAttempts: 1})
	d.RegisterSink("telegram", &panicSink{})

	ctx := context.Background()
	ev := grantEvent()
	ev.Key = "panic"
	if err := d.Publish(ctx, store.Outbox, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if _, err := d.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce() error = %v", err)
	}

	rows, _ := store.Outbox.ListEvents(ctx, "panic")
	if len(rows) != 1 || rows[0].FailedAt == nil {
		t.Errorf("row = %+v, want failed", rows)
	}
}

func TestDispatcher_Backoff(t *testing.T) {
	d := NewDispatcher(nil, Options{Backoff: time.Second, MaxBackoff: 10 * time.Second})

	tests := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 10 * time.Second,
		9: 10 * time.Second,
	}
	for attempts, want := range tests {
		if got := d.backoff(attempts); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	d, store, _ := newTestDispatcher(t, Options{PollInterval: time.Hour})
	sink := &flakySink{}
	d.RegisterSink("telegram", sink)

	ctx := context.Background()
	if err := d.Publish(ctx, store.Outbox, grantEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	d.Start(ctx)
	deadline := time.Now().Add(5 * time.Second)
	for {
		pending, _ := store.Outbox.CountPending(ctx)
		if pending == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event was not delivered by the dispatch loop")
		}
		d.Kick()
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()
}

func TestDeliver_RoutesByKind(t *testing.T) {
	sink := &flakySink{}
	app := &ApplicationPayload{ApplicationID: 7}

	for _, kind := range []string{KindApplicationSubmitted, KindStatusChanged} {
		if err := Deliver(context.Background(), sink, Event{Kind: kind, Application: app}); err != nil {
			t.Errorf("Deliver(%s) error = %v", kind, err)
		}
	}
	if err := Deliver(context.Background(), sink, Event{Kind: "unknown"}); err == nil {
		t.Error("Deliver() expected error for unknown kind")
	}
}
