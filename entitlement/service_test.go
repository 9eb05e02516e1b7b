package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]Verification
	history  []PaidSession
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeProvider) VerifySession(ctx context.Context, id string) (Verification, error) {
	f.mu.Lock()
	f.calls++
	delay, err := f.delay, f.err
	v, ok := f.sessions[id]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Verification{}, ctx.Err()
		}
	}
	if err != nil {
		return Verification{}, err
	}
	if !ok {
		return Verification{}, ErrSessionNotFound
	}
	return v, nil
}

func (f *fakeProvider) FindPaidSession(_ context.Context, email, product string) (PaidSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return PaidSession{}, f.err
	}
	for _, s := range f.history {
		if s.Email == email && s.ProductType == product {
			return s, nil
		}
	}
	return PaidSession{}, ErrNoPurchaseFound
}

type checkoutProvider struct {
	fakeProvider
	err error
}

func (c *checkoutProvider) CreateCheckout(_ context.Context, email, product string) (CheckoutSession, error) {
	if c.err != nil {
		return CheckoutSession{}, c.err
	}
	return CheckoutSession{ID: "cs_new", URL: "https://pay.example/cs_new"}, nil
}

func newService(t *testing.T, p Provider, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := &MemoryStore{}
	svc, err := NewService(p, append([]Option{WithStore(store)}, opts...)...)
	require.NoError(t, err)
	return svc, store
}

func TestFreshInstall(t *testing.T) {
	svc, _ := newService(t, &fakeProvider{})
	st := svc.Snapshot()
	assert.Equal(t, PhaseFree, st.Phase)
	assert.Nil(t, st.License)
	assert.Equal(t, FreeSlots, svc.SlotMax())
	assert.Equal(t, DefaultTools(), st.ActiveTools())

	assert.NoError(t, svc.CanRun(ToolRotate))
	assert.ErrorIs(t, svc.CanRun(ToolOCR), ErrToolLocked)
	assert.ErrorIs(t, svc.CanRun(Tool("paint")), ErrUnknownTool)
}

func TestSelectTools(t *testing.T) {
	svc, store := newService(t, &fakeProvider{})

	require.NoError(t, svc.SelectTools(ToolSplit, ToolOCR, ToolOCR))
	assert.Equal(t, []Tool{ToolSplit, ToolOCR}, svc.Snapshot().ActiveTools())
	assert.Equal(t, 1, store.Saves())

	before := svc.Snapshot()
	err := svc.SelectTools(ToolRotate, ToolMerge, ToolSplit, ToolDelete)
	var limitErr *SlotLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.ErrorIs(t, err, ErrSlotLimit)
	assert.Equal(t, 4, limitErr.Requested)
	assert.Equal(t, FreeSlots, limitErr.Max)
	assert.Equal(t, before, svc.Snapshot(), "a rejected selection must not apply partially")

	assert.ErrorIs(t, svc.SelectTools(ToolRotate, "paint"), ErrUnknownTool)
	assert.Equal(t, before, svc.Snapshot())
}

func TestSelectToolsCountsDuplicates(t *testing.T) {
	svc, _ := newService(t, &fakeProvider{})
	before := svc.Snapshot()

	err := svc.SelectTools(ToolRotate, ToolRotate, ToolMerge, ToolMerge, ToolSplit)
	var limitErr *SlotLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 5, limitErr.Requested)
	assert.Equal(t, FreeSlots, limitErr.Max)
	assert.Equal(t, before, svc.Snapshot())
}

func TestVerifyPayment(t *testing.T) {
	paidAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{sessions: map[string]Verification{
		"cs_paid":   {SessionID: "cs_paid", Paid: true, Email: "a@example.com", ProductType: ProductPremium, PaidAt: paidAt},
		"cs_unpaid": {SessionID: "cs_unpaid", Paid: false},
		"cs_other":  {SessionID: "cs_other", Paid: true, ProductType: "stickers"},
	}}
	svc, store := newService(t, p)

	for _, tc := range []struct {
		id   string
		want error
	}{
		{"cs_unpaid", ErrPaymentNotCompleted},
		{"cs_other", ErrPaymentNotCompleted},
		{"cs_missing", ErrSessionNotFound},
		{"  ", ErrSessionNotFound},
	} {
		before := svc.Snapshot()
		lic, err := svc.VerifyPayment(context.Background(), tc.id)
		assert.ErrorIs(t, err, tc.want, tc.id)
		assert.Nil(t, lic)
		assert.Equal(t, before, svc.Snapshot(), "%s must not touch the state", tc.id)
	}
	assert.Equal(t, 0, store.Saves())

	lic, err := svc.VerifyPayment(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, lic.Active)
	assert.False(t, lic.Recovered)
	assert.Equal(t, "cs_paid", lic.SessionID)
	assert.Equal(t, paidAt, lic.PurchasedAt)
	assert.NotEqual(t, "cs_paid", lic.Token)
	assert.Len(t, lic.Token, 43)

	st := svc.Snapshot()
	assert.Equal(t, PhaseLicensed, st.Phase)
	assert.Equal(t, PremiumSlots, st.SlotMax())
	require.NoError(t, svc.SelectTools(AllTools()[:PremiumSlots]...))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, svc.Snapshot(), saved)
}

func TestVerifyPaymentProviderFailures(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		svc, _ := newService(t, &fakeProvider{err: errors.New("connection refused")})
		_, err := svc.VerifyPayment(context.Background(), "cs_1")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.Equal(t, PhaseFree, svc.Snapshot().Phase)
	})
	t.Run("timeout", func(t *testing.T) {
		p := &fakeProvider{delay: time.Second, sessions: map[string]Verification{"cs_1": {Paid: true}}}
		svc, _ := newService(t, p, WithTimeout(20*time.Millisecond))
		_, err := svc.VerifyPayment(context.Background(), "cs_1")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, svc.Snapshot().License)
	})
	t.Run("persist", func(t *testing.T) {
		store := &MemoryStore{SaveErr: errors.New("disk full")}
		p := &fakeProvider{sessions: map[string]Verification{"cs_1": {Paid: true}}}
		svc, err := NewService(p, WithStore(store))
		require.NoError(t, err)
		_, err = svc.VerifyPayment(context.Background(), "cs_1")
		assert.Error(t, err)
		assert.Nil(t, svc.Snapshot().License)
		assert.Equal(t, uint64(0), svc.Snapshot().Version)
	})
}

func TestCanRunDuringVerification(t *testing.T) {
	p := &fakeProvider{delay: 200 * time.Millisecond, sessions: map[string]Verification{"cs_1": {Paid: true}}}
	svc, _ := newService(t, p)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.VerifyPayment(context.Background(), "cs_1")
	}()
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	assert.NoError(t, svc.CanRun(ToolMerge))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	<-done
}

func TestRecoverLicense(t *testing.T) {
	paidAt := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	p := &fakeProvider{history: []PaidSession{
		{SessionID: "cs_old", Email: "user@example.com", ProductType: ProductPremium, PaidAt: paidAt},
	}}
	svc, _ := newService(t, p)

	lic, err := svc.RecoverLicense(context.Background(), " User@Example.com ")
	require.NoError(t, err)
	assert.True(t, lic.Recovered)
	assert.True(t, lic.Active)
	assert.Equal(t, "user@example.com", lic.Email)
	assert.Equal(t, "cs_old", lic.SessionID)
	assert.NotEqual(t, "cs_old", lic.Token)
	assert.Equal(t, PhaseRecovered, svc.Snapshot().Phase)
	assert.Equal(t, PremiumSlots, svc.SlotMax())
}

func TestRecoverLicenseNotFound(t *testing.T) {
	p := &fakeProvider{history: []PaidSession{
		{SessionID: "cs_1", Email: "other@example.com", ProductType: ProductPremium},
		{SessionID: "cs_2", Email: "user@example.com", ProductType: "stickers"},
	}}
	svc, _ := newService(t, p)
	before := svc.Snapshot()

	_, err := svc.RecoverLicense(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrNoPurchaseFound)
	after := svc.Snapshot()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Nil(t, after.License)
	assert.Equal(t, before.Slots, after.Slots)

	_, err = svc.RecoverLicense(context.Background(), "not an email")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRecoveryKeepsExistingLicenseOnFailure(t *testing.T) {
	p := &fakeProvider{sessions: map[string]Verification{"cs_1": {Paid: true}}}
	svc, _ := newService(t, p)
	lic, err := svc.VerifyPayment(context.Background(), "cs_1")
	require.NoError(t, err)

	_, err = svc.RecoverLicense(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ErrNoPurchaseFound)
	st := svc.Snapshot()
	assert.Equal(t, PhaseLicensed, st.Phase)
	assert.Equal(t, lic, st.License)
}

func TestBeginCheckout(t *testing.T) {
	p := &checkoutProvider{}
	svc, _ := newService(t, p)
	sess, err := svc.BeginCheckout(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cs_new", sess.ID)
	st := svc.Snapshot()
	assert.Equal(t, PhasePaymentPending, st.Phase)
	assert.Equal(t, "cs_new", st.CheckoutSession)

	failing := &checkoutProvider{err: errors.New("boom")}
	svc2, _ := newService(t, failing)
	_, err = svc2.BeginCheckout(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, PhaseFree, svc2.Snapshot().Phase)

	svc3, _ := newService(t, &fakeProvider{})
	_, err = svc3.BeginCheckout(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrCheckoutUnsupported)
}

func TestExpiryTruncatesDeterministically(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &MemoryStore{}
	require.NoError(t, store.Save(State{
		Version: 7,
		Phase:   PhaseLicensed,
		License: &License{Token: "t", Active: true, SessionID: "cs", ExpiresAt: now.Add(time.Hour)},
		Slots: ToolSlotConfig{
			FreeSlots:    FreeSlots,
			PremiumSlots: PremiumSlots,
			Chosen: []ToolChoice{
				{ToolOCR, 4}, {ToolRotate, 0}, {ToolWatermark, 5}, {ToolMerge, 1}, {ToolCompress, 3}, {ToolSplit, 2},
			},
			NextSeq: 6,
		},
	}))
	svc, err := NewService(&fakeProvider{}, WithStore(store), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	assert.True(t, svc.Snapshot().Licensed())

	changed, err := svc.Refresh(now.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	st := svc.Snapshot()
	assert.Equal(t, PhaseFree, st.Phase)
	assert.False(t, st.License.Active)
	assert.Equal(t, []Tool{ToolRotate, ToolMerge, ToolSplit}, st.ActiveTools())
	assert.Equal(t, uint64(8), st.Version)

	changed, err = svc.Refresh(now.Add(3 * time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestClear(t *testing.T) {
	p := &fakeProvider{sessions: map[string]Verification{"cs_1": {Paid: true}}}
	svc, store := newService(t, p)
	_, err := svc.VerifyPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	require.NoError(t, svc.SelectTools(ToolOCR, ToolRotate, ToolMerge, ToolSplit, ToolDelete))

	require.NoError(t, svc.Clear())
	st := svc.Snapshot()
	assert.Nil(t, st.License)
	assert.Equal(t, PhaseFree, st.Phase)
	assert.Equal(t, []Tool{ToolRotate, ToolMerge, ToolSplit}, st.ActiveTools())
	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, st, stored)
}

func TestClearSurvivesRestart(t *testing.T) {
	store := NewFileStore(t.TempDir())
	svc, err := NewService(&fakeProvider{}, WithStore(store))
	require.NoError(t, err)
	require.NoError(t, svc.SelectTools(ToolOCR, ToolWatermark, ToolDelete))
	require.NoError(t, svc.Clear())
	want := svc.Snapshot()
	require.Equal(t, []Tool{ToolOCR, ToolWatermark, ToolDelete}, want.ActiveTools())

	restarted, err := NewService(&fakeProvider{}, WithStore(store))
	require.NoError(t, err)
	assert.Equal(t, want.ActiveTools(), restarted.Snapshot().ActiveTools())
	assert.Equal(t, want.Version, restarted.Snapshot().Version)
	assert.Equal(t, PhaseFree, restarted.Snapshot().Phase)
}

func TestExportBackup(t *testing.T) {
	p := &fakeProvider{sessions: map[string]Verification{"cs_1": {Paid: true, Email: "a@example.com"}}}
	svc, _ := newService(t, p)
	_, err := svc.ExportBackup()
	assert.ErrorIs(t, err, ErrNoLicense)

	lic, err := svc.VerifyPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	data, err := svc.ExportBackup()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "PDF Tools Premium", got["product"])
	assert.Equal(t, lic.Token, got["license"])
	assert.Equal(t, "a@example.com", got["email"])
	assert.Contains(t, got, "purchasedAt")
}

func TestTokenNeverEqualsSession(t *testing.T) {
	p := &fakeProvider{sessions: map[string]Verification{"cs_1": {Paid: true}}}
	svc, _ := newService(t, p)
	calls := 0
	svc.newToken = func() (string, error) {
		calls++
		if calls == 1 {
			return "cs_1", nil
		}
		return "fresh", nil
	}
	lic, err := svc.VerifyPayment(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", lic.Token)
}

func TestParseTool(t *testing.T) {
	got, err := ParseTool(" OCR ")
	require.NoError(t, err)
	assert.Equal(t, ToolOCR, got)
	_, err = ParseTool("paint")
	assert.ErrorIs(t, err, ErrUnknownTool)
}
