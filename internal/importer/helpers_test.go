package importer

import (
	"context"
	"sync"
	"time"
)

// fakeClock advances instantly on Sleep and records every pause, so rate
// gate behavior can be asserted without real waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// Advance moves the clock without recording a sleep.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore is an in-memory AccountStore with per-email failure
// injection.
type fakeStore struct {
	mu           sync.Mutex
	accounts     map[string]Account
	active       map[string]bool
	existsErr    map[string]error
	createErr    map[string]error
	activateErr  map[string]error
	createCalls  []string
	existsCalls  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    map[string]Account{},
		active:      map[string]bool{},
		existsErr:   map[string]error{},
		createErr:   map[string]error{},
		activateErr: map[string]error{},
	}
}

func (f *fakeStore) seed(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email] = Account{ID: "seeded-" + email, Email: email}
}

func (f *fakeStore) Exists(ctx context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls = append(f.existsCalls, email)
	if err := f.existsErr[email]; err != nil {
		return false, err
	}
	_, ok := f.accounts[email]
	return ok, nil
}

func (f *fakeStore) Create(ctx context.Context, acct Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, acct.Email)
	if err := f.createErr[acct.Email]; err != nil {
		return "", err
	}
	if _, ok := f.accounts[acct.Email]; ok {
		return "", ErrAlreadyExists
	}
	acct.ID = "id-" + acct.Email
	f.accounts[acct.Email] = acct
	return acct.ID, nil
}

func (f *fakeStore) Activate(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.activateErr[email]; err != nil {
		return err
	}
	f.active[email] = true
	return nil
}

// fakeSender records sends and fails on demand.
type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	urls    []string
	failFor map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{failFor: map[string]error{}}
}

func (f *fakeSender) SendInvite(ctx context.Context, to, name, setupURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[to]; err != nil {
		return err
	}
	f.sent = append(f.sent, to)
	f.urls = append(f.urls, setupURL)
	return nil
}

// drain collects every event from a closed reporter stream.
func drain(rep *Reporter) []Event {
	var events []Event
	for ev := range rep.Events() {
		events = append(events, ev)
	}
	return events
}

// rawRows builds sequential raw rows from (name, email, role) triples.
func rawRows(triples ...[3]string) []RawRow {
	rows := make([]RawRow, 0, len(triples))
	for i, t := range triples {
		rows = append(rows, RawRow{Index: i + 1, Name: t[0], Email: t[1], Role: t[2]})
	}
	return rows
}
