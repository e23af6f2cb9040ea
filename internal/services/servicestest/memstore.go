// Package servicestest provides in-memory collaborators for testing code built on the services package.
package servicestest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/models"
	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// MemoryStore is a services.DealStore kept in memory. It applies the same
// guards as the postgres store: the join increments only below capacity and
// rejects a second enrollment of one phone, and finalization is compare-and-set.
type MemoryStore struct {
	mu           sync.Mutex
	deals        map[uuid.UUID]*models.Deal
	participants []models.Participant
	history      []models.DealHistory
	calls        map[string]int
	errs         map[string]error
	clock        time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals: map[uuid.UUID]*models.Deal{},
		calls: map[string]int{},
		errs:  map[string]error{},
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FailOn makes every later call of method return err; a nil err clears it
func (m *MemoryStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// Calls reports how many times method was called
func (m *MemoryStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls reports the number of store calls of any method
func (m *MemoryStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *MemoryStore) enter(method string) error {
	m.calls[method]++
	return m.errs[method]
}

// AddDeal stores a copy of d, filling id and created_at. Each added deal is
// created one minute after the previous one.
func (m *MemoryStore) AddDeal(d models.Deal) models.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.clock = m.clock.Add(time.Minute)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.clock
	}
	d.UpdatedAt = d.CreatedAt
	cp := d
	m.deals[d.ID] = &cp
	return d
}

// AddParticipant stores p as-is without touching the deal counter
func (m *MemoryStore) AddParticipant(p models.Participant) models.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.participants = append(m.participants, p)
	return p
}

// Deal returns the stored deal
func (m *MemoryStore) Deal(id uuid.UUID) models.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.deals[id]
}

// Participants returns the stored participants of a deal
func (m *MemoryStore) Participants(dealID uuid.UUID) []models.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Participant
	for _, p := range m.participants {
		if p.DealID == dealID {
			out = append(out, p)
		}
	}
	return out
}

// History returns the audit records written so far
func (m *MemoryStore) History() []models.DealHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DealHistory(nil), m.history...)
}

func (m *MemoryStore) sortedDeals(keep func(models.Deal) bool, less func(a, b models.Deal) bool) []models.Deal {
	out := []models.Deal{}
	for _, d := range m.deals {
		if keep(*d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (m *MemoryStore) ListActiveDeals(ctx context.Context, limit int) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListActiveDeals"); err != nil {
		return nil, err
	}
	out := m.sortedDeals(
		func(d models.Deal) bool { return d.Status == models.DealStatusActive },
		func(a, b models.Deal) bool { return a.CreatedAt.Before(b.CreatedAt) },
	)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListDeals(ctx context.Context, status models.DealStatus) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDeals"); err != nil {
		return nil, err
	}
	return m.sortedDeals(
		func(d models.Deal) bool { return status == "" || d.Status == status },
		func(a, b models.Deal) bool { return a.CreatedAt.After(b.CreatedAt) },
	), nil
}

func (m *MemoryStore) GetDeal(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetDeal"); err != nil {
		return nil, err
	}
	d, ok := m.deals[id]
	if !ok {
		return nil, services.ErrDealNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	m.mu.Lock()
	if err := m.enter("CreateDeal"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	if deal.ID == uuid.Nil {
		deal.ID = uuid.New()
	}
	stored := m.AddDeal(*deal)
	*deal = stored

	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, models.DealHistory{DealID: deal.ID, ActionType: models.DealActionCreated, NewStatus: deal.Status})
	return nil
}

func (m *MemoryStore) UpdateDeal(ctx context.Context, id uuid.UUID, fields map[string]interface{}) (*models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateDeal"); err != nil {
		return nil, err
	}
	d, ok := m.deals[id]
	if !ok {
		return nil, services.ErrDealNotFound
	}
	if st, ok := fields["status"].(models.DealStatus); ok && d.Status.IsTerminal() && st != d.Status {
		return nil, services.InvalidInput("status cannot change once the deal is completed or failed", nil)
	}
	if limit, ok := fields["max_participants"].(int); ok && d.CurrentParticipants > limit {
		return nil, services.InvalidInput("max_participants cannot be below current participants", nil)
	}
	old := d.Status
	for k, v := range fields {
		switch k {
		case "product_name":
			d.ProductName = v.(string)
		case "description":
			d.Description = v.(string)
		case "original_price":
			d.OriginalPrice = v.(decimal.Decimal)
		case "group_price":
			d.GroupPrice = v.(decimal.Decimal)
		case "min_participants":
			d.MinParticipants = v.(int)
		case "max_participants":
			d.MaxParticipants = v.(int)
		case "status":
			d.Status = v.(models.DealStatus)
		case "end_time":
			d.EndTime = v.(time.Time)
		case "ended_at":
			t := v.(time.Time)
			d.EndedAt = &t
		}
	}
	m.history = append(m.history, models.DealHistory{DealID: id, ActionType: models.DealActionUpdated, OldStatus: old, NewStatus: d.Status})
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) DeleteDeal(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteDeal"); err != nil {
		return err
	}
	if _, ok := m.deals[id]; !ok {
		return services.ErrDealNotFound
	}
	delete(m.deals, id)
	m.history = append(m.history, models.DealHistory{DealID: id, ActionType: models.DealActionDeleted})
	return nil
}

func (m *MemoryStore) ListParticipants(ctx context.Context, dealID uuid.UUID, phone string) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListParticipants"); err != nil {
		return nil, err
	}
	out := []models.Participant{}
	for _, p := range m.participants {
		if p.DealID == dealID && (phone == "" || p.PhoneNumber == phone) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListParticipationsByPhone(ctx context.Context, phone string) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListParticipationsByPhone"); err != nil {
		return nil, err
	}
	out := []models.Participant{}
	for i := len(m.participants) - 1; i >= 0; i-- {
		p := m.participants[i]
		if p.PhoneNumber != phone {
			continue
		}
		if d, ok := m.deals[p.DealID]; ok {
			cp := *d
			p.Deal = &cp
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryStore) JoinDeal(ctx context.Context, dealID uuid.UUID, participant *models.Participant) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("JoinDeal"); err != nil {
		return 0, err
	}
	d, ok := m.deals[dealID]
	if !ok || d.Status != models.DealStatusActive {
		return 0, services.ErrDealNotFound
	}
	if d.CurrentParticipants >= d.MaxParticipants {
		return 0, services.ErrDealFull
	}
	for _, p := range m.participants {
		if p.DealID == dealID && p.PhoneNumber == participant.PhoneNumber {
			return 0, services.ErrAlreadyJoined
		}
	}

	if participant.ID == uuid.Nil {
		participant.ID = uuid.New()
	}
	participant.DealID = dealID
	m.participants = append(m.participants, *participant)
	d.CurrentParticipants++
	d.UpdatedAt = participant.JoinedAt
	m.history = append(m.history, models.DealHistory{DealID: dealID, ActionType: models.DealActionParticipantJoined, ActorPhone: participant.PhoneNumber})
	return d.CurrentParticipants, nil
}

func (m *MemoryStore) ListExpiredActiveDeals(ctx context.Context, now time.Time) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListExpiredActiveDeals"); err != nil {
		return nil, err
	}
	return m.sortedDeals(
		func(d models.Deal) bool { return d.Status == models.DealStatusActive && d.EndTime.Before(now) },
		func(a, b models.Deal) bool { return a.EndTime.Before(b.EndTime) },
	), nil
}

func (m *MemoryStore) FinalizeDeal(ctx context.Context, dealID uuid.UUID, expectedParticipants int, outcome models.DealStatus, now time.Time) ([]models.Participant, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FinalizeDeal"); err != nil {
		return nil, false, err
	}
	d, ok := m.deals[dealID]
	if !ok || d.Status != models.DealStatusActive || d.CurrentParticipants != expectedParticipants {
		return nil, false, nil
	}
	d.Status = outcome
	d.EndedAt = &now
	d.UpdatedAt = now
	if outcome == models.DealStatusFailed {
		for i := range m.participants {
			if m.participants[i].DealID == dealID {
				initiated := models.RefundStatusInitiated
				m.participants[i].RefundStatus = &initiated
			}
		}
	}
	m.history = append(m.history, models.DealHistory{DealID: dealID, ActionType: models.DealActionStatusChanged, OldStatus: models.DealStatusActive, NewStatus: outcome})

	participants := []models.Participant{}
	for _, p := range m.participants {
		if p.DealID == dealID {
			participants = append(participants, p)
		}
	}
	return participants, true, nil
}

func (m *MemoryStore) ListDueScheduledDeals(ctx context.Context, now time.Time) ([]models.Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDueScheduledDeals"); err != nil {
		return nil, err
	}
	return m.sortedDeals(
		func(d models.Deal) bool { return d.Status == models.DealStatusScheduled && !d.StartTime.After(now) },
		func(a, b models.Deal) bool { return a.StartTime.Before(b.StartTime) },
	), nil
}

func (m *MemoryStore) ActivateDeal(ctx context.Context, dealID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ActivateDeal"); err != nil {
		return false, err
	}
	d, ok := m.deals[dealID]
	if !ok || d.Status != models.DealStatusScheduled {
		return false, nil
	}
	d.Status = models.DealStatusActive
	d.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

// AnalyticsSnapshot implements services.AnalyticsSource
func (m *MemoryStore) AnalyticsSnapshot(ctx context.Context) (*services.Analytics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AnalyticsSnapshot"); err != nil {
		return nil, err
	}
	a := &services.Analytics{DealsByStatus: map[string]int64{}, RevenueByMonth: []services.MonthlyRevenue{}}
	for _, d := range m.deals {
		a.TotalDeals++
		a.DealsByStatus[string(d.Status)]++
	}
	a.ActiveDeals = a.DealsByStatus[string(models.DealStatusActive)]
	for _, p := range m.participants {
		a.TotalParticipants++
		a.TotalRevenue = a.TotalRevenue.Add(p.AmountPaid)
	}
	return a, nil
}
