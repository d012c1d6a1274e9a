package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/priority"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/ticketstate"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/event"
	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
)

var testEpoch = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	coordinator *Coordinator
	registry    *Registry
	store       *TicketStore
	tickets     *MockTicketRepository
	sessions    *MockSessionRepository
	publisher   *MockPublisher
	clock       *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv() *testEnv {
	clock := &testClock{now: testEpoch}
	tickets := NewMockTicketRepository()
	sessions := NewMockSessionRepository()
	publisher := NewMockPublisher()
	logger := aqm.NewNoopLogger()

	registry := NewRegistry(sessions, DefaultStaleness, logger)
	registry.now = clock.Now
	store := NewTicketStore(tickets)
	store.now = clock.Now
	coordinator := NewCoordinator(registry, store, publisher, logger)
	coordinator.now = clock.Now

	return &testEnv{
		coordinator: coordinator,
		registry:    registry,
		store:       store,
		tickets:     tickets,
		sessions:    sessions,
		publisher:   publisher,
		clock:       clock,
	}
}

func depositTicket(prio string, createdAt time.Time) *Ticket {
	return &Ticket{
		ID:           uuid.New(),
		QueueType:    "deposit",
		Priority:     prio,
		PriorityRank: priority.RankOf(prio),
		State:        ticketstate.States.Waiting.Code(),
		Payload: Payload{
			Type:    "deposit",
			Deposit: &AmountBody{AccountID: "ACC-1", AmountCents: 1000},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestCoordinatorDepositScenario(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	oldest := depositTicket("standard", testEpoch.Add(-10*time.Minute))
	newer := depositTicket("standard", testEpoch.Add(-5*time.Minute))
	env.tickets.AddTicket(oldest)
	env.tickets.AddTicket(newer)

	if _, err := env.coordinator.ClaimQueueType(ctx, "deposit", "T1"); err != nil {
		t.Fatalf("ClaimQueueType() error = %v", err)
	}

	got, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if err != nil {
		t.Fatalf("NextCustomer() error = %v", err)
	}
	if got.ID != oldest.ID {
		t.Fatalf("NextCustomer() = %s, want oldest %s", got.ID, oldest.ID)
	}
	if got.State != "in_service" || got.ServicedBy != "T1" || got.ServiceStartedAt == nil {
		t.Errorf("NextCustomer() ticket = %+v, want in_service by T1 with start time", got)
	}

	env.clock.Advance(3 * time.Minute)
	done, err := env.coordinator.CompleteTransaction(ctx, got.ID, "T1")
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	if done.State != "completed" || done.CompletedAt == nil {
		t.Fatalf("CompleteTransaction() ticket = %+v, want completed with timestamp", done)
	}
	if !done.CompletedAt.Equal(testEpoch.Add(3 * time.Minute)) {
		t.Errorf("CompletedAt = %v, want %v", done.CompletedAt, testEpoch.Add(3*time.Minute))
	}

	reverted, err := env.coordinator.UndoLast(ctx, "T1")
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if reverted.ID != oldest.ID || reverted.State != "waiting" {
		t.Errorf("UndoLast() = %s/%s, want %s/waiting", reverted.ID, reverted.State, oldest.ID)
	}
	if reverted.ServicedBy != "" || reverted.ServiceStartedAt != nil || reverted.CompletedAt != nil {
		t.Errorf("UndoLast() left service fields set: %+v", reverted)
	}
}

func TestCoordinatorNextCustomerOrdering(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	t1 := depositTicket("standard", testEpoch.Add(1*time.Second))
	t2 := depositTicket("expedited", testEpoch.Add(2*time.Second))
	t3 := depositTicket("standard", testEpoch)
	for _, tk := range []*Ticket{t1, t2, t3} {
		env.tickets.AddTicket(tk)
	}

	want := []TicketID{t2.ID, t3.ID, t1.ID}
	for i, id := range want {
		got, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
		if err != nil {
			t.Fatalf("NextCustomer() #%d error = %v", i, err)
		}
		if got.ID != id {
			t.Errorf("NextCustomer() #%d = %s, want %s", i, got.ID, id)
		}
		if _, err := env.coordinator.CompleteTransaction(ctx, got.ID, "T1"); err != nil {
			t.Fatalf("CompleteTransaction() #%d error = %v", i, err)
		}
	}

	if _, err := env.coordinator.NextCustomer(ctx, "deposit", "T1"); !errors.Is(err, ErrNoCustomerAvailable) {
		t.Errorf("NextCustomer() on empty queue error = %v, want ErrNoCustomerAvailable", err)
	}
}

func TestCoordinatorNextCustomerErrors(t *testing.T) {
	tests := []struct {
		name      string
		queueType string
		setup     func(*testEnv)
		wantErr   error
	}{
		{
			name:      "emptyQueue",
			queueType: "deposit",
			wantErr:   ErrNoCustomerAvailable,
		},
		{
			name:      "invalidQueueType",
			queueType: "mortgage",
			wantErr:   ErrInvalidQueueType,
		},
		{
			name:      "heldByAnotherTeller",
			queueType: "deposit",
			setup: func(env *testEnv) {
				env.tickets.AddTicket(depositTicket("standard", testEpoch))
				if _, err := env.registry.Claim(context.Background(), "deposit", "T2"); err != nil {
					panic(err)
				}
			},
			wantErr: ErrClaimConflict,
		},
		{
			name:      "tellerAway",
			queueType: "deposit",
			setup: func(env *testEnv) {
				env.tickets.AddTicket(depositTicket("standard", testEpoch))
				env.sessions.SetStatus(context.Background(), "T1", "away")
			},
			wantErr: ErrTellerAway,
		},
		{
			name:      "storeDown",
			queueType: "deposit",
			setup: func(env *testEnv) {
				env.tickets.NextWaitingFunc = func(ctx context.Context, queueType string) (*Ticket, error) {
					return nil, errors.New("connection refused")
				}
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			if tt.setup != nil {
				tt.setup(env)
			}

			_, err := env.coordinator.NextCustomer(context.Background(), tt.queueType, "T1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NextCustomer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoordinatorNextCustomerRetriesOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	first := depositTicket("standard", testEpoch)
	second := depositTicket("standard", testEpoch.Add(time.Second))
	env.tickets.AddTicket(first)
	env.tickets.AddTicket(second)

	// Another writer takes the first candidate between selection and update.
	stolen := false
	env.tickets.UpdateIfFunc = func(ctx context.Context, id TicketID, cond TicketCondition, u TicketUpdate) (*Ticket, error) {
		if id == first.ID && !stolen {
			stolen = true
			env.tickets.UpdateIfFunc = nil
			env.tickets.mu.Lock()
			env.tickets.tickets[id].State = "in_service"
			env.tickets.tickets[id].ServicedBy = "T9"
			env.tickets.mu.Unlock()
			return nil, ErrPreconditionFailed
		}
		return nil, errors.New("unexpected call")
	}

	got, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if err != nil {
		t.Fatalf("NextCustomer() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("NextCustomer() = %s, want %s", got.ID, second.ID)
	}
}

func TestCoordinatorNextCustomerConcurrent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		env.tickets.AddTicket(depositTicket("standard", testEpoch.Add(time.Duration(i)*time.Second)))
	}
	if _, err := env.coordinator.ClaimQueueType(ctx, "deposit", "T1"); err != nil {
		t.Fatalf("ClaimQueueType() error = %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[TicketID]int)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
			if err != nil {
				if !errors.Is(err, ErrConcurrentModification) {
					t.Errorf("NextCustomer() unexpected error = %v", err)
				}
				return
			}
			mu.Lock()
			seen[got.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) == 0 {
		t.Fatal("no caller received a ticket")
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("ticket %s delivered %d times", id, n)
		}
	}

	inService := ticketstate.States.InService.Code()
	list, _ := env.tickets.List(ctx, TicketFilter{State: &inService})
	if len(list) != len(seen) {
		t.Errorf("in service tickets = %d, delivered = %d", len(list), len(seen))
	}
}

func TestCoordinatorFinish(t *testing.T) {
	tests := []struct {
		name      string
		skip      bool
		teller    string
		state     string
		wantState string
		wantErr   error
	}{
		{
			name:      "completeOwnTicket",
			teller:    "T1",
			state:     "in_service",
			wantState: "completed",
		},
		{
			name:      "skipOwnTicket",
			skip:      true,
			teller:    "T1",
			state:     "in_service",
			wantState: "skipped",
		},
		{
			name:    "completeOtherTellersTicket",
			teller:  "T2",
			state:   "in_service",
			wantErr: ErrInvalidStateTransition,
		},
		{
			name:    "completeWaitingTicket",
			teller:  "T1",
			state:   "waiting",
			wantErr: ErrInvalidStateTransition,
		},
		{
			name:    "skipCompletedTicket",
			skip:    true,
			teller:  "T1",
			state:   "completed",
			wantErr: ErrInvalidStateTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			ctx := context.Background()

			tk := depositTicket("standard", testEpoch)
			tk.State = tt.state
			if tt.state != "waiting" {
				started := testEpoch.Add(time.Minute)
				tk.ServicedBy = "T1"
				tk.ServiceStartedAt = &started
			}
			env.tickets.AddTicket(tk)

			action := env.coordinator.CompleteTransaction
			if tt.skip {
				action = env.coordinator.SkipCustomer
			}

			got, err := action(ctx, tk.ID, tt.teller)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				stored, _ := env.tickets.FindByID(ctx, tk.ID)
				if stored.State != tt.state {
					t.Errorf("state changed to %s on failure", stored.State)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error = %v", err)
			}
			if got.State != tt.wantState {
				t.Errorf("state = %s, want %s", got.State, tt.wantState)
			}
			if got.ServicedBy != "T1" || got.ServiceStartedAt == nil {
				t.Errorf("service fields lost: %+v", got)
			}
			if tt.skip && got.SkippedAt == nil {
				t.Error("SkippedAt not set")
			}

			session, _ := env.sessions.Find(ctx, "T1")
			if session == nil || session.LastAction == nil || session.LastAction.TicketID != tk.ID {
				t.Errorf("undo slot = %+v, want ticket %s", session, tk.ID)
			}
		})
	}
}

func TestCoordinatorFinishKeepsResultWhenUndoSlotFails(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tk := depositTicket("standard", testEpoch)
	tk.State = "in_service"
	tk.ServicedBy = "T1"
	env.tickets.AddTicket(tk)
	env.sessions.SetLastActionFunc = func(ctx context.Context, tellerID string, action LastAction) error {
		return errors.New("timeout")
	}

	got, err := env.coordinator.CompleteTransaction(ctx, tk.ID, "T1")
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	if got.State != "completed" {
		t.Errorf("state = %s, want completed", got.State)
	}
}

func TestCoordinatorUndoIsSingleShot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.tickets.AddTicket(depositTicket("standard", testEpoch))
	env.tickets.AddTicket(depositTicket("standard", testEpoch.Add(time.Second)))

	var served []*Ticket
	for i := 0; i < 2; i++ {
		tk, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
		if err != nil {
			t.Fatalf("NextCustomer() error = %v", err)
		}
		if _, err := env.coordinator.CompleteTransaction(ctx, tk.ID, "T1"); err != nil {
			t.Fatalf("CompleteTransaction() error = %v", err)
		}
		served = append(served, tk)
	}

	got, err := env.coordinator.UndoLast(ctx, "T1")
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if got.ID != served[1].ID {
		t.Errorf("UndoLast() reverted %s, want %s", got.ID, served[1].ID)
	}

	first, _ := env.tickets.FindByID(ctx, served[0].ID)
	if first.State != "completed" {
		t.Errorf("first ticket state = %s, want completed", first.State)
	}

	if _, err := env.coordinator.UndoLast(ctx, "T1"); !errors.Is(err, ErrUndoUnavailable) {
		t.Errorf("second UndoLast() error = %v, want ErrUndoUnavailable", err)
	}
}

func TestCoordinatorUndoErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testEnv)
	}{
		{
			name: "noSession",
		},
		{
			name: "emptySlot",
			setup: func(env *testEnv) {
				env.registry.Claim(context.Background(), "deposit", "T1")
			},
		},
		{
			name: "ticketChangedSinceAction",
			setup: func(env *testEnv) {
				tk := depositTicket("standard", testEpoch)
				env.tickets.AddTicket(tk)
				env.sessions.SetLastAction(context.Background(), "T1", LastAction{
					TicketID: tk.ID,
					State:    "completed",
					At:       testEpoch,
				})
			},
		},
		{
			name: "ticketGone",
			setup: func(env *testEnv) {
				env.sessions.SetLastAction(context.Background(), "T1", LastAction{
					TicketID: uuid.New(),
					State:    "skipped",
					At:       testEpoch,
				})
			},
		},
		{
			name: "finishedByAnotherTeller",
			setup: func(env *testEnv) {
				tk := depositTicket("standard", testEpoch)
				tk.State = "completed"
				tk.ServicedBy = "T2"
				env.tickets.AddTicket(tk)
				env.sessions.SetLastAction(context.Background(), "T1", LastAction{
					TicketID: tk.ID,
					State:    "completed",
					At:       testEpoch,
				})
			},
		},
		{
			name: "slotNamesNonTerminalState",
			setup: func(env *testEnv) {
				tk := depositTicket("standard", testEpoch)
				tk.State = "in_service"
				tk.ServicedBy = "T1"
				env.tickets.AddTicket(tk)
				env.sessions.SetLastAction(context.Background(), "T1", LastAction{
					TicketID: tk.ID,
					State:    "in_service",
					At:       testEpoch,
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			if tt.setup != nil {
				tt.setup(env)
			}

			if _, err := env.coordinator.UndoLast(context.Background(), "T1"); !errors.Is(err, ErrUndoUnavailable) {
				t.Errorf("UndoLast() error = %v, want ErrUndoUnavailable", err)
			}
		})
	}
}

func TestCoordinatorUndoSkippedTicketIsServedAgain(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tk := depositTicket("standard", testEpoch)
	env.tickets.AddTicket(tk)

	served, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if _, err := env.coordinator.SkipCustomer(ctx, served.ID, "T1"); err != nil {
		t.Fatalf("SkipCustomer() error = %v", err)
	}
	if _, err := env.coordinator.UndoLast(ctx, "T1"); err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}

	again, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if err != nil {
		t.Fatalf("NextCustomer() after undo error = %v", err)
	}
	if again.ID != tk.ID {
		t.Errorf("NextCustomer() = %s, want reverted ticket %s", again.ID, tk.ID)
	}
}

func TestCoordinatorUndoRetriesAfterStoreFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.tickets.AddTicket(depositTicket("standard", testEpoch))
	served, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if _, err := env.coordinator.CompleteTransaction(ctx, served.ID, "T1"); err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}

	env.tickets.UpdateIfFunc = func(ctx context.Context, id TicketID, cond TicketCondition, u TicketUpdate) (*Ticket, error) {
		env.tickets.UpdateIfFunc = nil
		return nil, errors.New("i/o timeout")
	}

	if _, err := env.coordinator.UndoLast(ctx, "T1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("UndoLast() during outage error = %v, want ErrStoreUnavailable", err)
	}

	session, _ := env.registry.Session(ctx, "T1")
	if session == nil || session.LastAction == nil || session.LastAction.TicketID != served.ID {
		t.Fatalf("undo slot after failed undo = %+v, want ticket %s", session, served.ID)
	}
	stored, _ := env.tickets.FindByID(ctx, served.ID)
	if stored.State != "completed" {
		t.Errorf("state after failed undo = %s, want completed", stored.State)
	}

	got, err := env.coordinator.UndoLast(ctx, "T1")
	if err != nil {
		t.Fatalf("retried UndoLast() error = %v", err)
	}
	if got.ID != served.ID || got.State != "waiting" {
		t.Errorf("retried UndoLast() = %s/%s, want %s/waiting", got.ID, got.State, served.ID)
	}

	session, _ = env.registry.Session(ctx, "T1")
	if session.LastAction != nil {
		t.Errorf("undo slot after retry = %+v, want empty", session.LastAction)
	}
}

func TestCoordinatorUndoSurvivesSlotClearFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.tickets.AddTicket(depositTicket("standard", testEpoch))
	served, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	env.coordinator.SkipCustomer(ctx, served.ID, "T1")

	env.sessions.TakeActionFunc = func(ctx context.Context, tellerID string, ticketID TicketID) (bool, error) {
		return false, errors.New("connection reset by peer")
	}

	got, err := env.coordinator.UndoLast(ctx, "T1")
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if got.State != "waiting" {
		t.Errorf("state = %s, want waiting", got.State)
	}

	// The stale slot still names the ticket but can no longer revert it.
	if _, err := env.coordinator.UndoLast(ctx, "T1"); !errors.Is(err, ErrUndoUnavailable) {
		t.Errorf("second UndoLast() error = %v, want ErrUndoUnavailable", err)
	}
}

func TestCoordinatorUndoAfterNextCustomer(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	a := depositTicket("standard", testEpoch)
	b := depositTicket("standard", testEpoch.Add(time.Second))
	env.tickets.AddTicket(a)
	env.tickets.AddTicket(b)

	first, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if _, err := env.coordinator.CompleteTransaction(ctx, first.ID, "T1"); err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	second, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if err != nil {
		t.Fatalf("NextCustomer() error = %v", err)
	}
	if second.ID != b.ID {
		t.Fatalf("NextCustomer() = %s, want %s", second.ID, b.ID)
	}

	got, err := env.coordinator.UndoLast(ctx, "T1")
	if err != nil {
		t.Fatalf("UndoLast() error = %v", err)
	}
	if got.ID != a.ID || got.State != "waiting" {
		t.Errorf("UndoLast() = %s/%s, want %s/waiting", got.ID, got.State, a.ID)
	}

	current, _ := env.tickets.FindByID(ctx, b.ID)
	if current.State != "in_service" || current.ServicedBy != "T1" {
		t.Errorf("ticket in service = %s/%s, want in_service/T1", current.State, current.ServicedBy)
	}
}

func TestCoordinatorUndoConcurrent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.tickets.AddTicket(depositTicket("standard", testEpoch))
	served, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	env.coordinator.CompleteTransaction(ctx, served.ID, "T1")
	before := len(env.publisher.Events())

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int
	var unexpected []error

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.coordinator.UndoLast(ctx, "T1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, ErrUndoUnavailable):
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful undos = %d, want 1", wins)
	}
	for _, err := range unexpected {
		t.Errorf("UndoLast() error = %v, want ErrUndoUnavailable", err)
	}
	if n := len(env.publisher.Events()) - before; n != 1 {
		t.Errorf("revert events = %d, want 1", n)
	}

	stored, _ := env.tickets.FindByID(ctx, served.ID)
	if stored.State != "waiting" {
		t.Errorf("state = %s, want waiting", stored.State)
	}
}

func TestCoordinatorTracksTellerStatus(t *testing.T) {
	tests := []struct {
		name   string
		finish func(c *Coordinator, ctx context.Context, id TicketID) (*Ticket, error)
	}{
		{name: "complete", finish: func(c *Coordinator, ctx context.Context, id TicketID) (*Ticket, error) {
			return c.CompleteTransaction(ctx, id, "T1")
		}},
		{name: "skip", finish: func(c *Coordinator, ctx context.Context, id TicketID) (*Ticket, error) {
			return c.SkipCustomer(ctx, id, "T1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			ctx := context.Background()
			env.tickets.AddTicket(depositTicket("standard", testEpoch))

			served, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
			if err != nil {
				t.Fatalf("NextCustomer() error = %v", err)
			}
			session, _ := env.registry.Session(ctx, "T1")
			if session.Status != "busy" {
				t.Errorf("status while serving = %s, want busy", session.Status)
			}

			if _, err := tt.finish(env.coordinator, ctx, served.ID); err != nil {
				t.Fatalf("finish error = %v", err)
			}
			session, _ = env.registry.Session(ctx, "T1")
			if session.Status != "available" {
				t.Errorf("status after %s = %s, want available", tt.name, session.Status)
			}
		})
	}
}

func TestCoordinatorStatusFailureKeepsTicket(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.tickets.AddTicket(depositTicket("standard", testEpoch))

	env.sessions.SetStatusFunc = func(ctx context.Context, tellerID, status string) error {
		return errors.New("write concern timeout")
	}

	served, err := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	if err != nil {
		t.Fatalf("NextCustomer() error = %v", err)
	}
	if served.State != "in_service" {
		t.Errorf("state = %s, want in_service", served.State)
	}

	done, err := env.coordinator.CompleteTransaction(ctx, served.ID, "T1")
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	if done.State != "completed" {
		t.Errorf("state = %s, want completed", done.State)
	}
}

func TestCoordinatorNextCustomerAwayTellerClaimsNothing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.tickets.AddTicket(depositTicket("standard", testEpoch))

	if err := env.coordinator.SetTellerStatus(ctx, "T1", "away"); err != nil {
		t.Fatalf("SetTellerStatus() error = %v", err)
	}
	env.sessions.ClaimFunc = func(ctx context.Context, s *TellerSession) error {
		t.Errorf("Claim() called for away teller %s", s.TellerID)
		return nil
	}

	if _, err := env.coordinator.NextCustomer(ctx, "deposit", "T1"); !errors.Is(err, ErrTellerAway) {
		t.Errorf("NextCustomer() error = %v, want ErrTellerAway", err)
	}

	claims, _ := env.coordinator.ListActiveClaims(ctx)
	if len(claims) != 0 {
		t.Errorf("active claims = %+v, want none", claims)
	}
	if len(env.publisher.Events()) != 0 {
		t.Error("NextCustomer() published events for an away teller")
	}
}

func TestCoordinatorListTickets(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.tickets.AddTicket(depositTicket("standard", testEpoch.Add(time.Duration(i)*time.Second)))
	}
	served, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")

	waiting := "waiting"
	deposit := "deposit"
	got, err := env.coordinator.ListTickets(ctx, TicketFilter{QueueType: &deposit, State: &waiting})
	if err != nil {
		t.Fatalf("ListTickets() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListTickets() returned %d tickets, want 2", len(got))
	}
	for _, tk := range got {
		if tk.ID == served.ID {
			t.Errorf("ListTickets() included in-service ticket %s", tk.ID)
		}
	}

	page, _ := env.coordinator.ListTickets(ctx, TicketFilter{Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Errorf("paged ListTickets() returned %d tickets, want 1", len(page))
	}

	bad := "closed"
	if _, err := env.coordinator.ListTickets(ctx, TicketFilter{State: &bad}); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("ListTickets() with unknown state error = %v, want ErrInvalidTicket", err)
	}
	forex := "forex"
	if _, err := env.coordinator.ListTickets(ctx, TicketFilter{QueueType: &forex}); !errors.Is(err, ErrInvalidQueueType) {
		t.Errorf("ListTickets() with unknown queue type error = %v, want ErrInvalidQueueType", err)
	}
}

func TestCoordinatorPublishesEvents(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tk := depositTicket("standard", testEpoch)
	tk.Number = "A001"
	env.tickets.AddTicket(tk)

	env.coordinator.ClaimQueueType(ctx, "deposit", "T1")
	served, _ := env.coordinator.NextCustomer(ctx, "deposit", "T1")
	env.coordinator.CallCustomer(ctx, served.ID, "T1")
	env.coordinator.CompleteTransaction(ctx, served.ID, "T1")
	env.coordinator.UndoLast(ctx, "T1")
	env.coordinator.ReleaseQueueType(ctx, "T1")

	want := []struct {
		topic     string
		eventType string
	}{
		{event.ClaimsTopic, event.EventQueueClaimed},
		{event.TicketsTopic, event.EventTicketServiced},
		{event.TicketsTopic, event.EventTicketCalled},
		{event.TicketsTopic, event.EventTicketCompleted},
		{event.TicketsTopic, event.EventTicketReverted},
		{event.ClaimsTopic, event.EventQueueReleased},
	}

	events := env.publisher.Events()
	if len(events) != len(want) {
		t.Fatalf("published %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].Topic != w.topic {
			t.Errorf("event %d topic = %s, want %s", i, events[i].Topic, w.topic)
		}
		var evt struct {
			EventType string `json:"event_type"`
			TellerID  string `json:"teller_id"`
			Number    string `json:"number"`
		}
		if err := json.Unmarshal(events[i].Data, &evt); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if evt.EventType != w.eventType {
			t.Errorf("event %d type = %s, want %s", i, evt.EventType, w.eventType)
		}
		if evt.TellerID != "T1" {
			t.Errorf("event %d teller = %q, want T1", i, evt.TellerID)
		}
	}

	var reverted event.TicketStateChangedEvent
	json.Unmarshal(events[4].Data, &reverted)
	if reverted.PreviousState != "completed" || reverted.NewState != "waiting" || reverted.Number != "A001" {
		t.Errorf("reverted event = %+v", reverted)
	}
}

func TestCoordinatorPublishFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv()
	env.publisher.PublishFunc = func(ctx context.Context, topic string, data []byte) error {
		return errors.New("nats down")
	}
	env.tickets.AddTicket(depositTicket("standard", testEpoch))

	if _, err := env.coordinator.NextCustomer(context.Background(), "deposit", "T1"); err != nil {
		t.Errorf("NextCustomer() error = %v, want nil", err)
	}
}

func TestCoordinatorCallCustomerRequiresOwnership(t *testing.T) {
	env := newTestEnv()
	tk := depositTicket("standard", testEpoch)
	env.tickets.AddTicket(tk)

	if _, err := env.coordinator.CallCustomer(context.Background(), tk.ID, "T1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("CallCustomer() on waiting ticket error = %v, want ErrInvalidStateTransition", err)
	}
	if len(env.publisher.Events()) != 0 {
		t.Error("CallCustomer() published an event for a rejected call")
	}
}
