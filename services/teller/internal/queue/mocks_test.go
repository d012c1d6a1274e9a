package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockTicketRepository is an in-memory TicketRepository. Conditional updates
// are atomic under the mutex so concurrency tests see real races.
type MockTicketRepository struct {
	mu      sync.Mutex
	tickets map[TicketID]*Ticket

	CreateFunc       func(ctx context.Context, t *Ticket) error
	FindByIDFunc     func(ctx context.Context, id TicketID) (*Ticket, error)
	NextWaitingFunc  func(ctx context.Context, queueType string) (*Ticket, error)
	UpdateIfFunc     func(ctx context.Context, id TicketID, cond TicketCondition, u TicketUpdate) (*Ticket, error)
	CountWaitingFunc func(ctx context.Context, queueType string) (int64, error)
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{
		tickets: make(map[TicketID]*Ticket),
	}
}

func (m *MockTicketRepository) Create(ctx context.Context, t *Ticket) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MockTicketRepository) FindByID(ctx context.Context, id TicketID) (*Ticket, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tickets[id]
	if !exists {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTicketRepository) NextWaiting(ctx context.Context, queueType string) (*Ticket, error) {
	if m.NextWaitingFunc != nil {
		return m.NextWaitingFunc(ctx, queueType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Ticket
	for _, t := range m.tickets {
		if t.QueueType != queueType || t.State != "waiting" {
			continue
		}
		if best == nil || t.Less(best) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *MockTicketRepository) UpdateIf(ctx context.Context, id TicketID, cond TicketCondition, u TicketUpdate) (*Ticket, error) {
	if m.UpdateIfFunc != nil {
		return m.UpdateIfFunc(ctx, id, cond, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tickets[id]
	if !exists {
		return nil, ErrTicketNotFound
	}
	if !t.Matches(cond) {
		return nil, ErrPreconditionFailed
	}
	t.Apply(u)
	cp := *t
	return &cp, nil
}

func (m *MockTicketRepository) CountWaiting(ctx context.Context, queueType string) (int64, error) {
	if m.CountWaitingFunc != nil {
		return m.CountWaitingFunc(ctx, queueType)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tickets {
		if t.QueueType == queueType && t.State == "waiting" {
			n++
		}
	}
	return n, nil
}

func (m *MockTicketRepository) List(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if filter.QueueType != nil && t.QueueType != *filter.QueueType {
			continue
		}
		if filter.State != nil && t.State != *filter.State {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Less(&result[j]) })
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []Ticket{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// AddTicket is a helper to seed the mock repository
func (m *MockTicketRepository) AddTicket(t *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tickets[t.ID] = &cp
}

// MockSessionRepository is an in-memory SessionRepository that enforces a
// single active session per queue type.
type MockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*TellerSession

	FindFunc          func(ctx context.Context, tellerID string) (*TellerSession, error)
	ClaimFunc         func(ctx context.Context, s *TellerSession) error
	SetLastActionFunc func(ctx context.Context, tellerID string, action LastAction) error
	ListActiveFunc    func(ctx context.Context) ([]TellerSession, error)
	SetStatusFunc     func(ctx context.Context, tellerID, status string) error
	TakeActionFunc    func(ctx context.Context, tellerID string, ticketID TicketID) (bool, error)
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{
		sessions: make(map[string]*TellerSession),
	}
}

func (m *MockSessionRepository) Find(ctx context.Context, tellerID string) (*TellerSession, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, tellerID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[tellerID]
	if !exists {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *MockSessionRepository) Claim(ctx context.Context, s *TellerSession) error {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.sessions {
		if id != s.TellerID && other.Active && other.QueueType == s.QueueType {
			return ErrClaimConflict
		}
	}
	m.sessions[s.TellerID] = copySession(s)
	return nil
}

func (m *MockSessionRepository) DeactivateStale(ctx context.Context, queueType string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Active && s.QueueType == queueType && s.LastHeartbeat.Before(cutoff) {
			s.Active = false
			return true, nil
		}
	}
	return false, nil
}

func (m *MockSessionRepository) Touch(ctx context.Context, tellerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[tellerID]
	if !exists || !s.Active {
		return ErrNoActiveSession
	}
	s.LastHeartbeat = at
	return nil
}

func (m *MockSessionRepository) Deactivate(ctx context.Context, tellerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, exists := m.sessions[tellerID]; exists {
		s.Active = false
	}
	return nil
}

func (m *MockSessionRepository) SetStatus(ctx context.Context, tellerID, status string) error {
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, tellerID, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[tellerID]
	if !exists {
		s = &TellerSession{TellerID: tellerID}
		m.sessions[tellerID] = s
	}
	s.Status = status
	return nil
}

func (m *MockSessionRepository) ListActive(ctx context.Context) ([]TellerSession, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []TellerSession
	for _, s := range m.sessions {
		if s.Active {
			result = append(result, *copySession(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].QueueType < result[j].QueueType })
	return result, nil
}

func (m *MockSessionRepository) SetLastAction(ctx context.Context, tellerID string, action LastAction) error {
	if m.SetLastActionFunc != nil {
		return m.SetLastActionFunc(ctx, tellerID, action)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[tellerID]
	if !exists {
		s = &TellerSession{TellerID: tellerID}
		m.sessions[tellerID] = s
	}
	a := action
	s.LastAction = &a
	return nil
}

func (m *MockSessionRepository) TakeLastAction(ctx context.Context, tellerID string, ticketID TicketID) (bool, error) {
	if m.TakeActionFunc != nil {
		return m.TakeActionFunc(ctx, tellerID, ticketID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[tellerID]
	if !exists || s.LastAction == nil || s.LastAction.TicketID != ticketID {
		return false, nil
	}
	s.LastAction = nil
	return true, nil
}

// AddSession is a helper to seed the mock repository
func (m *MockSessionRepository) AddSession(s *TellerSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TellerID] = copySession(s)
}

func copySession(s *TellerSession) *TellerSession {
	cp := *s
	if s.LastAction != nil {
		a := *s.LastAction
		cp.LastAction = &a
	}
	return &cp
}

// MockPublisher is a test mock for events.Publisher
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	return nil
}

func (m *MockPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.PublishedEvents...)
}
