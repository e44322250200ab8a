package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/logger"
	"github.com/mailchymp/mailchymp/internal/mailer"
	"github.com/mailchymp/mailchymp/internal/model"
	"github.com/mailchymp/mailchymp/internal/repository"
)

// memCampaigns mirrors the conditional writes of CampaignRepository
type memCampaigns struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	touches   int
	listErr   error
}

func newMemCampaigns(cs ...*model.Campaign) *memCampaigns {
	m := &memCampaigns{campaigns: map[string]*model.Campaign{}}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *memCampaigns) get(id string) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *memCampaigns) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memCampaigns) GetByID(ctx context.Context, id, userID string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) List(ctx context.Context, userID string, filter model.CampaignFilter) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.campaigns {
		if c.UserID != userID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCampaigns) Update(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.campaigns[c.ID]
	if !ok || cur.UserID != c.UserID || !cur.Status.CanEdit() {
		return repository.ErrStateChanged
	}
	cur.Title, cur.Subject, cur.FromName, cur.ReplyTo, cur.HTML = c.Title, c.Subject, c.FromName, c.ReplyTo, c.HTML
	cur.UpdatedAt = c.UpdatedAt
	return nil
}

func (m *memCampaigns) Delete(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.campaigns[id]
	if !ok || cur.UserID != userID || !cur.Status.CanDelete() {
		return repository.ErrStateChanged
	}
	delete(m.campaigns, id)
	return nil
}

func (m *memCampaigns) Claim(ctx context.Context, id, userID string, from []model.CampaignStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = model.CampaignStatusSending
			c.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (m *memCampaigns) Finish(ctx context.Context, id string, status model.CampaignStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.Status != model.CampaignStatusSending {
		return repository.ErrStateChanged
	}
	c.Status = status
	c.ScheduledAt = nil
	c.ListID = nil
	c.UpdatedAt = at
	return nil
}

func (m *memCampaigns) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touches++
	if c, ok := m.campaigns[id]; ok && c.Status == model.CampaignStatusSending {
		c.UpdatedAt = at
	}
	return nil
}

func (m *memCampaigns) Schedule(ctx context.Context, id, userID, listID string, when, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID || !c.Status.CanSchedule() {
		return repository.ErrStateChanged
	}
	c.Status = model.CampaignStatusScheduled
	c.ScheduledAt = &when
	c.ListID = &listID
	c.UpdatedAt = at
	return nil
}

func (m *memCampaigns) Cancel(ctx context.Context, id, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.UserID != userID || c.Status != model.CampaignStatusScheduled {
		return repository.ErrStateChanged
	}
	c.Status = model.CampaignStatusDraft
	c.ScheduledAt = nil
	c.ListID = nil
	c.UpdatedAt = at
	return nil
}

func (m *memCampaigns) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.campaigns {
		if c.Status == model.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCampaigns) ListStaleSending(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.campaigns {
		if c.Status == model.CampaignStatusSending && c.UpdatedAt.Before(before) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memLogs keeps send logs keyed by (campaign, subscriber)
type memLogs struct {
	mu       sync.Mutex
	rows     map[string]*model.SendLog
	tokens   map[string]string
	resetErr error
}

func newMemLogs() *memLogs {
	return &memLogs{rows: map[string]*model.SendLog{}, tokens: map[string]string{}}
}

func logKey(campaignID, subscriberID string) string {
	return campaignID + "/" + subscriberID
}

func (m *memLogs) Reset(ctx context.Context, entry *model.SendLog) error {
	if m.resetErr != nil {
		return m.resetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := logKey(entry.CampaignID, entry.SubscriberID)
	if owner, ok := m.tokens[entry.TrackingToken]; ok && owner != key {
		return repository.ErrDuplicate
	}
	if old, ok := m.rows[key]; ok {
		delete(m.tokens, old.TrackingToken)
	}
	cp := *entry
	m.rows[key] = &cp
	m.tokens[entry.TrackingToken] = key
	return nil
}

func (m *memLogs) byID(id string) *model.SendLog {
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memLogs) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.Status = model.SendStatusSent
	r.ProviderMessageID = &providerMessageID
	r.SentAt = &at
	return nil
}

func (m *memLogs) MarkFailed(ctx context.Context, id, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byID(id)
	if r == nil {
		return repository.ErrNotFound
	}
	r.Status = model.SendStatusFailed
	r.ErrorDetail = &detail
	return nil
}

func (m *memLogs) FailQueued(ctx context.Context, campaignID, detail string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.CampaignID == campaignID && r.Status == model.SendStatusQueued {
			r.Status = model.SendStatusFailed
			d := detail
			r.ErrorDetail = &d
			n++
		}
	}
	return n, nil
}

func (m *memLogs) StatsByCampaign(ctx context.Context, campaignID string) (*model.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &model.CampaignStats{CampaignID: campaignID}
	for _, r := range m.rows {
		if r.CampaignID != campaignID {
			continue
		}
		switch r.Status {
		case model.SendStatusSent:
			stats.Sent++
		case model.SendStatusFailed:
			stats.Failed++
		case model.SendStatusQueued:
			stats.Queued++
		}
	}
	return stats, nil
}

func (m *memLogs) row(campaignID, subscriberID string) model.SendLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[logKey(campaignID, subscriberID)]
}

func (m *memLogs) count(campaignID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rows {
		if r.CampaignID == campaignID {
			n++
		}
	}
	return n
}

// memLists resolves recipients from a fixed table
type memLists struct {
	lists map[string][]model.Recipient
	owner map[string]string
}

func (m *memLists) ResolveRecipients(ctx context.Context, listID, ownerID string) ([]model.Recipient, error) {
	if m.owner[listID] != ownerID {
		return nil, repository.ErrNotFound
	}
	return m.lists[listID], nil
}

type staticIdentity struct {
	identity *mailer.Identity
	err      error
}

func (s staticIdentity) SenderIdentity(ctx context.Context, ownerID string) (*mailer.Identity, error) {
	return s.identity, s.err
}

// fakeTransport records sends and fails addresses listed in reject
type fakeTransport struct {
	mu     sync.Mutex
	sent   []mailer.Message
	reject map[string]error
	panics bool
	seq    int
}

func (f *fakeTransport) Send(ctx context.Context, from mailer.Identity, msg mailer.Message) (string, error) {
	if f.panics {
		panic("transport exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.reject[msg.To]; ok {
		return "", err
	}
	f.sent = append(f.sent, msg)
	f.seq++
	return fmt.Sprintf("msg-%d", f.seq), nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testConfig() *config.Config {
	return &config.Config{
		Tracking: config.TrackingConfig{BaseURL: "https://track.example.com/"},
		Scheduler: config.SchedulerConfig{
			Interval:    15 * time.Second,
			BatchSize:   3,
			MinLeadTime: 15 * time.Second,
			StaleAfter:  30 * time.Minute,
		},
		Dispatch: config.DispatchConfig{ErrorDetailMax: 1800, HeartbeatEvery: 25},
	}
}

type dispatchFixture struct {
	campaigns  *memCampaigns
	logs       *memLogs
	lists      *memLists
	transport  *fakeTransport
	dispatcher *Dispatcher
}

func newDispatchFixture(recipients ...string) *dispatchFixture {
	campaign := &model.Campaign{
		ID:        "cmp_1",
		UserID:    "usr_1",
		Title:     "Launch",
		Subject:   "Hello",
		FromName:  "Acme",
		FromEmail: "owner@example.com",
		HTML:      `<html><body><a href="https://acme.example/p">Go</a></body></html>`,
		Status:    model.CampaignStatusDraft,
	}
	var rs []model.Recipient
	for i, email := range recipients {
		rs = append(rs, model.Recipient{SubscriberID: fmt.Sprintf("sub_%d", i), Email: email})
	}

	f := &dispatchFixture{
		campaigns: newMemCampaigns(campaign),
		logs:      newMemLogs(),
		lists: &memLists{
			lists: map[string][]model.Recipient{"lst_1": rs},
			owner: map[string]string{"lst_1": "usr_1"},
		},
		transport: &fakeTransport{reject: map[string]error{}},
	}
	f.dispatcher = NewDispatcher(
		f.campaigns,
		f.logs,
		f.lists,
		staticIdentity{identity: &mailer.Identity{Address: "owner@example.com", RefreshToken: "rt"}},
		f.transport,
		testConfig(),
		logger.Nop(),
	)
	return f
}

var errTransportDown = errors.New("503 backend unavailable")
