package wizard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/copperxbot/bot/gateway"
	"github.com/m3rciful/copperxbot/core/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway records calls and answers from its fields.
type fakeGateway struct {
	mu    sync.Mutex
	calls []string

	sid       string
	auth      gateway.Auth
	balance   float64
	wallets   []gateway.Wallet
	history   gateway.HistoryPage
	quotes    []gateway.Quote
	quoteN    int
	failWith  map[string]error
	sentEmail []float64
	recipient string
	offramp   []gateway.Withdrawal
	defaultID string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sid:     "sid-1",
		auth:    gateway.Auth{Token: "tok", OrganizationID: "org-1"},
		balance: 100,
		quotes: []gateway.Quote{
			{Payload: "p1", Signature: "s1", Fee: "1"},
			{Payload: "p2", Signature: "s2", Fee: "2"},
		},
		failWith: map[string]error{},
	}
}

func (f *fakeGateway) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.failWith[name]
}

func (f *fakeGateway) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeGateway) count(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeGateway) RequestOTP(_ context.Context, _ string) (string, error) {
	if err := f.record("RequestOTP"); err != nil {
		return "", err
	}
	return f.sid, nil
}

func (f *fakeGateway) VerifyOTP(_ context.Context, _, _, _ string) (gateway.Auth, error) {
	if err := f.record("VerifyOTP"); err != nil {
		return gateway.Auth{}, err
	}
	return f.auth, nil
}

func (f *fakeGateway) Profile(context.Context, string) (gateway.Profile, error) {
	if err := f.record("Profile"); err != nil {
		return gateway.Profile{}, err
	}
	return gateway.Profile{Email: "me@x.io", FirstName: "Ann"}, nil
}

func (f *fakeGateway) KYC(context.Context, string) (gateway.KYC, error) {
	if err := f.record("KYC"); err != nil {
		return gateway.KYC{}, err
	}
	return gateway.KYC{Found: true, Status: "approved"}, nil
}

func (f *fakeGateway) Wallets(context.Context, string) ([]gateway.Wallet, error) {
	if err := f.record("Wallets"); err != nil {
		return nil, err
	}
	return f.wallets, nil
}

func (f *fakeGateway) SetDefaultWallet(_ context.Context, _, id string) (gateway.Wallet, error) {
	if err := f.record("SetDefaultWallet"); err != nil {
		return gateway.Wallet{}, err
	}
	f.mu.Lock()
	f.defaultID = id
	f.mu.Unlock()
	return gateway.Wallet{ID: id, IsDefault: true}, nil
}

func (f *fakeGateway) Balance(context.Context, string) (gateway.Balance, error) {
	if err := f.record("Balance"); err != nil {
		return gateway.Balance{}, err
	}
	return gateway.Balance{Amount: f.balance, Symbol: "USDC"}, nil
}

func (f *fakeGateway) Balances(context.Context, string) ([]gateway.WalletBalances, error) {
	if err := f.record("Balances"); err != nil {
		return nil, err
	}
	return []gateway.WalletBalances{{
		WalletID:  "w1",
		Network:   "solana",
		IsDefault: true,
		Balances:  []gateway.TokenBalance{{Symbol: "USDC", Balance: "100"}},
	}}, nil
}

func (f *fakeGateway) DepositAddress(context.Context, string, string) (gateway.DepositAddress, error) {
	if err := f.record("DepositAddress"); err != nil {
		return gateway.DepositAddress{}, err
	}
	return gateway.DepositAddress{Address: "So1111111111111111111111111111111"}, nil
}

func (f *fakeGateway) SendEmail(_ context.Context, _ string, amount float64, email string) (gateway.Transfer, error) {
	if err := f.record("SendEmail"); err != nil {
		return gateway.Transfer{}, err
	}
	f.mu.Lock()
	f.sentEmail = append(f.sentEmail, amount)
	f.recipient = email
	f.mu.Unlock()
	return gateway.Transfer{ID: "t1"}, nil
}

func (f *fakeGateway) SendWallet(_ context.Context, _ string, _ float64, address string) (gateway.Transfer, error) {
	if err := f.record("SendWallet"); err != nil {
		return gateway.Transfer{}, err
	}
	f.mu.Lock()
	f.recipient = address
	f.mu.Unlock()
	return gateway.Transfer{ID: "t2"}, nil
}

func (f *fakeGateway) OfframpQuote(context.Context, string, gateway.QuoteRequest) (gateway.Quote, error) {
	if err := f.record("OfframpQuote"); err != nil {
		return gateway.Quote{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.quotes[min(f.quoteN, len(f.quotes)-1)]
	f.quoteN++
	return q, nil
}

func (f *fakeGateway) Offramp(_ context.Context, _ string, w gateway.Withdrawal) (gateway.Transfer, error) {
	if err := f.record("Offramp"); err != nil {
		return gateway.Transfer{}, err
	}
	f.mu.Lock()
	f.offramp = append(f.offramp, w)
	f.mu.Unlock()
	return gateway.Transfer{ID: "t3"}, nil
}

func (f *fakeGateway) History(_ context.Context, _ string, page, _ int) (gateway.HistoryPage, error) {
	if err := f.record("History"); err != nil {
		return gateway.HistoryPage{}, err
	}
	hp := f.history
	hp.Page = page
	return hp, nil
}

type fakeNotifier struct {
	mu           sync.Mutex
	subscribed   []session.Credentials
	unsubscribed int
}

func (n *fakeNotifier) Subscribe(_ context.Context, _ int64, creds session.Credentials) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribed = append(n.subscribed, creds)
	return nil
}

func (n *fakeNotifier) Unsubscribe(int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unsubscribed++
}

// harness wires a runner over an in-memory store.
type harness struct {
	t        *testing.T
	clock    *fakeClock
	store    *session.Manager
	pending  *session.Pending
	gw       *fakeGateway
	notifier *fakeNotifier
	runner   *Runner
}

const user int64 = 1001

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	backend := session.NewMemoryBackend()
	store := session.NewManager(backend, session.Options{Now: clock.Now})
	t.Cleanup(func() { _ = store.Dispose() })
	pending := session.NewPending(backend, time.Minute, clock.Now)
	gw := newFakeGateway()
	notifier := &fakeNotifier{}
	machine := NewMachine(gw, store, pending, opts)
	return &harness{
		t:        t,
		clock:    clock,
		store:    store,
		pending:  pending,
		gw:       gw,
		notifier: notifier,
		runner:   NewRunner(store, machine, notifier),
	}
}

func (h *harness) send(ev Event) Reply {
	h.t.Helper()
	reply, err := h.runner.Handle(context.Background(), user, ev)
	require.NoError(h.t, err)
	return reply
}

func (h *harness) text(s string) Reply {
	h.t.Helper()
	return h.send(Text{Text: s})
}

func (h *harness) tap(id string, args ...string) Reply {
	h.t.Helper()
	return h.send(Action{ID: id, Args: args})
}

func (h *harness) stored() session.Session {
	h.t.Helper()
	s, err := h.store.Get(context.Background(), user)
	require.NoError(h.t, err)
	return s
}

func (h *harness) step() string {
	h.t.Helper()
	s := h.stored()
	if s.Wizard == nil {
		return ""
	}
	return s.Wizard.Step
}

func (h *harness) login() {
	h.t.Helper()
	exp := h.clock.Now().Add(time.Hour)
	require.NoError(h.t, h.store.Merge(context.Background(), user, session.Authenticate("tok", "org-1", exp)))
}

// buttonData returns the payload of the first button with action.
func buttonData(t *testing.T, r Reply, action string) string {
	t.Helper()
	for _, row := range r.Keyboard {
		for _, b := range row {
			if b.Action == action {
				return b.Data
			}
		}
	}
	t.Fatalf("no %s button in %+v", action, r.Keyboard)
	return ""
}
