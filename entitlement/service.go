package entitlement

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/wudi/pdfstudio/observability"
)

// DefaultTimeout bounds each call to the payment provider.
const DefaultTimeout = 10 * time.Second

// tokenBytes is the amount of randomness in a license token.
const tokenBytes = 32

var errNoChange = errors.New("no change")

// Service owns the entitlement state. Reads are synchronous lookups of the
// last published State; transitions that talk to the provider never hold
// the state lock while waiting on the network.
type Service struct {
	mu    sync.RWMutex
	state State

	// flight serializes the provider-backed transitions.
	flight sync.Mutex

	provider Provider
	store    Store
	logger   observability.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
	product  string
	now      func() time.Time
	newToken func() (string, error)
}

type Option func(*Service)

// WithStore sets where the state is persisted. The default is a
// MemoryStore.
func WithStore(st Store) Option { return func(s *Service) { s.store = st } }

func WithLogger(l observability.Logger) Option {
	return func(s *Service) { s.logger = observability.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithTimeout bounds provider calls. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProduct sets the product type payments must match.
func WithProduct(p string) Option { return func(s *Service) { s.product = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService loads the persisted state, or starts from the free state with
// the default tools when nothing was saved. An expired license is
// deactivated right away.
func NewService(provider Provider, opts ...Option) (*Service, error) {
	s := &Service{
		provider: provider,
		logger:   observability.NopLogger{},
		timeout:  DefaultTimeout,
		product:  ProductPremium,
		now:      time.Now,
		newToken: randomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = &MemoryStore{}
	}
	st, err := s.store.Load()
	switch {
	case errors.Is(err, ErrNoState):
		st = initialState()
	case err != nil:
		return nil, fmt.Errorf("load entitlement: %w", err)
	}
	s.state = st.normalize()
	if _, err := s.Refresh(s.now()); err != nil {
		return nil, err
	}
	s.logger.Debug("entitlement loaded",
		observability.String("phase", string(s.state.Phase)),
		observability.Int("slots", s.state.SlotMax()),
	)
	return s, nil
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// CanRun reports whether tool is in the active set. It never blocks on the
// network.
func (s *Service) CanRun(tool Tool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !tool.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	if !s.state.active(tool) {
		return fmt.Errorf("%w: %s", ErrToolLocked, tool)
	}
	return nil
}

func (s *Service) SlotMax() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SlotMax()
}

// update applies fn to a copy of the current state, persists the result and
// publishes it. fn returning errNoChange leaves everything as is.
func (s *Service) update(fn func(st *State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, errNoChange) {
			return s.state.clone(), nil
		}
		return State{}, err
	}
	next.Version = s.state.Version + 1
	if err := s.store.Save(next); err != nil {
		return State{}, fmt.Errorf("persist entitlement: %w", err)
	}
	s.state = next
	return next.clone(), nil
}

// SelectTools replaces the active set. More ids than SlotMax, duplicates
// included, fail with *SlotLimitError and change nothing. Within the limit
// duplicates collapse; tools that stay selected keep their place in the
// choice order.
func (s *Service) SelectTools(tools ...Tool) error {
	_, err := s.update(func(st *State) error {
		if limit := st.SlotMax(); len(tools) > limit {
			return &SlotLimitError{Requested: len(tools), Max: limit}
		}
		seen := make(map[Tool]bool, len(tools))
		picked := make([]Tool, 0, len(tools))
		for _, t := range tools {
			if !t.Valid() {
				return fmt.Errorf("%w: %q", ErrUnknownTool, t)
			}
			if !seen[t] {
				seen[t] = true
				picked = append(picked, t)
			}
		}
		prev := make(map[Tool]uint64, len(st.Slots.Chosen))
		for _, c := range st.Slots.Chosen {
			prev[c.Tool] = c.Seq
		}
		chosen := make([]ToolChoice, len(picked))
		for i, t := range picked {
			seq, ok := prev[t]
			if !ok {
				seq = st.Slots.NextSeq
				st.Slots.NextSeq++
			}
			chosen[i] = ToolChoice{Tool: t, Seq: seq}
		}
		st.Slots.Chosen = chosen
		st.Slots = st.Slots.truncate(len(chosen))
		return nil
	})
	if err == nil {
		s.logger.Info("tools selected", observability.Int("count", len(tools)))
	}
	return err
}

// BeginCheckout starts a purchase with the provider. The state moves to
// checkout-initiated and, once the provider answers, to payment-pending.
// A failed call restores the prior phase.
func (s *Service) BeginCheckout(ctx context.Context, email string) (CheckoutSession, error) {
	cp, ok := s.provider.(CheckoutProvider)
	if !ok {
		return CheckoutSession{}, ErrCheckoutUnsupported
	}
	addr, err := NormalizeEmail(email)
	if err != nil {
		return CheckoutSession{}, err
	}
	s.flight.Lock()
	defer s.flight.Unlock()

	prior := s.Snapshot()
	if prior.Licensed() {
		return CheckoutSession{}, ErrAlreadyLicensed
	}
	if _, err := s.update(func(st *State) error {
		st.Phase = PhaseCheckoutInitiated
		return nil
	}); err != nil {
		return CheckoutSession{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sess, err := cp.CreateCheckout(ctx, addr, s.product)
	if err != nil {
		s.restore(prior)
		return CheckoutSession{}, providerError(err)
	}
	if _, err := s.update(func(st *State) error {
		st.Phase = PhasePaymentPending
		st.CheckoutSession = sess.ID
		return nil
	}); err != nil {
		return CheckoutSession{}, err
	}
	s.logger.Info("checkout started", observability.String("session", sess.ID))
	return sess, nil
}

// VerifyPayment asks the provider about sessionID and issues a license if
// it was paid. Every failure leaves the state as it was.
func (s *Service) VerifyPayment(ctx context.Context, sessionID string) (*License, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrSessionNotFound)
	}
	s.flight.Lock()
	defer s.flight.Unlock()

	lic, err := s.verify(ctx, id)
	s.metrics.ObserveVerification("verify", resultLabel(err))
	if err != nil {
		s.logger.Warn("payment verification failed", observability.String("session", id), observability.Error("error", err))
		return nil, err
	}
	st, err := s.update(func(st *State) error {
		st.Phase = PhaseLicensed
		st.License = lic
		st.CheckoutSession = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("license issued", observability.String("session", id), observability.Int("slots", st.SlotMax()))
	return st.License, nil
}

func (s *Service) verify(ctx context.Context, id string) (*License, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := s.provider.VerifySession(ctx, id)
	if err != nil {
		return nil, providerError(err, ErrSessionNotFound)
	}
	if !v.Paid {
		return nil, ErrPaymentNotCompleted
	}
	if v.ProductType != "" && v.ProductType != s.product {
		return nil, fmt.Errorf("%w: session is for product %q", ErrPaymentNotCompleted, v.ProductType)
	}
	token, err := s.token(id)
	if err != nil {
		return nil, err
	}
	return &License{
		Token:       token,
		PurchasedAt: s.paidAt(v.PaidAt),
		Active:      true,
		ProductType: s.product,
		Email:       v.Email,
		SessionID:   id,
	}, nil
}

// RecoverLicense looks for a paid session of the product bought with
// email. On success it issues a license marked Recovered. On failure the
// state returns to the phase it had before the request.
func (s *Service) RecoverLicense(ctx context.Context, email string) (*License, error) {
	addr, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	s.flight.Lock()
	defer s.flight.Unlock()

	prior := s.Snapshot()
	if _, err := s.update(func(st *State) error {
		st.Phase = PhaseRecoveryRequested
		return nil
	}); err != nil {
		return nil, err
	}

	lic, err := s.recover(ctx, addr)
	s.metrics.ObserveVerification("recover", resultLabel(err))
	if err != nil {
		s.restore(prior)
		s.logger.Warn("license recovery failed", observability.Error("error", err))
		return nil, err
	}
	st, err := s.update(func(st *State) error {
		st.Phase = PhaseRecovered
		st.License = lic
		st.CheckoutSession = ""
		return nil
	})
	if err != nil {
		s.restore(prior)
		return nil, err
	}
	s.logger.Info("license recovered", observability.String("session", lic.SessionID))
	return st.License, nil
}

func (s *Service) recover(ctx context.Context, email string) (*License, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ps, err := s.provider.FindPaidSession(ctx, email, s.product)
	if err != nil {
		return nil, providerError(err, ErrNoPurchaseFound)
	}
	if ps.SessionID == "" ||
		(ps.ProductType != "" && ps.ProductType != s.product) ||
		(ps.Email != "" && !strings.EqualFold(ps.Email, email)) {
		return nil, ErrNoPurchaseFound
	}
	token, err := s.token(ps.SessionID)
	if err != nil {
		return nil, err
	}
	return &License{
		Token:       token,
		PurchasedAt: s.paidAt(ps.PaidAt),
		Active:      true,
		ProductType: s.product,
		Email:       email,
		SessionID:   ps.SessionID,
		Recovered:   true,
	}, nil
}

// restore puts back the phase and checkout session of prior. The license
// and slots are not touched by the transitions it undoes.
func (s *Service) restore(prior State) {
	if _, err := s.update(func(st *State) error {
		st.Phase = prior.Phase
		st.CheckoutSession = prior.CheckoutSession
		return nil
	}); err != nil {
		s.logger.Error("restoring entitlement phase", observability.Error("error", err))
	}
}

// Clear drops the license and any checkout in progress, and persists the
// free state. The chosen tools are cut to the free slot count, earliest
// choices first.
func (s *Service) Clear() error {
	s.flight.Lock()
	defer s.flight.Unlock()
	_, err := s.update(func(st *State) error {
		next := initialState()
		next.Slots.Chosen = st.Slots.Chosen
		next.Slots.NextSeq = st.Slots.NextSeq
		next.Slots = next.Slots.truncate(next.SlotMax())
		*st = next
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear entitlement: %w", err)
	}
	s.logger.Info("entitlement cleared")
	return nil
}

// Refresh deactivates a license that has expired at now and truncates the
// chosen tools to the free slot count. It reports whether anything changed.
func (s *Service) Refresh(now time.Time) (bool, error) {
	changed := false
	_, err := s.update(func(st *State) error {
		if !st.Licensed() || !st.License.Expired(now) {
			return errNoChange
		}
		st.License.Active = false
		st.Phase = PhaseFree
		st.Slots = st.Slots.truncate(st.SlotMax())
		changed = true
		return nil
	})
	if changed && err == nil {
		s.logger.Info("license expired")
	}
	return changed && err == nil, err
}

type backup struct {
	Product     string    `json:"product"`
	License     string    `json:"license"`
	PurchasedAt time.Time `json:"purchasedAt"`
	Email       string    `json:"email,omitempty"`
}

// ExportBackup returns the license as a JSON document the user can keep.
func (s *Service) ExportBackup() ([]byte, error) {
	st := s.Snapshot()
	if st.License == nil {
		return nil, ErrNoLicense
	}
	return json.MarshalIndent(backup{
		Product:     productName,
		License:     st.License.Token,
		PurchasedAt: st.License.PurchasedAt,
		Email:       st.License.Email,
	}, "", "  ")
}

func (s *Service) paidAt(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

// token draws a fresh license token. It is independent of the session id
// and never equal to it.
func (s *Service) token(sessionID string) (string, error) {
	for range 3 {
		t, err := s.newToken()
		if err != nil {
			return "", fmt.Errorf("license token: %w", err)
		}
		if t != "" && t != sessionID {
			return t, nil
		}
	}
	return "", errors.New("license token: generator keeps repeating the session id")
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NormalizeEmail parses a single address and lowercases it.
func NormalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(addr.Address), nil
}

// providerError keeps the listed kinds and reports everything else as the
// provider being unavailable.
func providerError(err error, keep ...error) error {
	for _, k := range keep {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPaymentNotCompleted):
		return "unpaid"
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNoPurchaseFound):
		return "not_found"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	}
	return "error"
}
