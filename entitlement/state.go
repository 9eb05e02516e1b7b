package entitlement

import (
	"slices"
	"time"
)

const (
	FreeSlots    = 3
	PremiumSlots = 6

	// ProductPremium is the product type a payment must carry.
	ProductPremium = "pdf-tools-premium"
	// productName appears in license backups.
	productName = "PDF Tools Premium"
)

// Phase is the position in the purchase state machine.
type Phase string

const (
	PhaseFree              Phase = "free"
	PhaseCheckoutInitiated Phase = "checkout-initiated"
	PhasePaymentPending    Phase = "payment-pending"
	PhaseLicensed          Phase = "licensed"
	PhaseRecoveryRequested Phase = "recovery-requested"
	PhaseRecovered         Phase = "recovered"
)

// License is the locally held proof of purchase. It is replaced as a whole,
// never edited in place.
type License struct {
	Token       string    `json:"token"`
	PurchasedAt time.Time `json:"purchasedAt"`
	Active      bool      `json:"active"`
	ProductType string    `json:"productType"`
	Email       string    `json:"email,omitempty"`
	SessionID   string    `json:"sessionId"`
	Recovered   bool      `json:"recovered"`
	// ExpiresAt is zero for a lifetime license.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the license has lapsed at now.
func (l *License) Expired(now time.Time) bool {
	return l != nil && !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// ToolChoice is one chosen tool. Seq orders choices by when they were made.
type ToolChoice struct {
	Tool Tool   `json:"tool"`
	Seq  uint64 `json:"seq"`
}

type ToolSlotConfig struct {
	FreeSlots    int          `json:"freeSlots"`
	PremiumSlots int          `json:"premiumSlots"`
	Chosen       []ToolChoice `json:"chosen"`
	NextSeq      uint64       `json:"nextSeq"`
}

func defaultSlots() ToolSlotConfig {
	cfg := ToolSlotConfig{FreeSlots: FreeSlots, PremiumSlots: PremiumSlots}
	for _, t := range DefaultTools() {
		cfg.Chosen = append(cfg.Chosen, ToolChoice{Tool: t, Seq: cfg.NextSeq})
		cfg.NextSeq++
	}
	return cfg
}

// truncate keeps the limit earliest choices, in choice order.
func (c ToolSlotConfig) truncate(limit int) ToolSlotConfig {
	chosen := slices.Clone(c.Chosen)
	slices.SortStableFunc(chosen, func(a, b ToolChoice) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	if len(chosen) > limit {
		chosen = chosen[:limit]
	}
	c.Chosen = chosen
	return c
}

// State is one immutable version of the entitlement. Service publishes a
// new value on every transition.
type State struct {
	Version         uint64         `json:"version"`
	Phase           Phase          `json:"phase"`
	License         *License       `json:"license,omitempty"`
	Slots           ToolSlotConfig `json:"slots"`
	CheckoutSession string         `json:"checkoutSession,omitempty"`
}

func initialState() State {
	return State{Phase: PhaseFree, Slots: defaultSlots()}
}

// Licensed reports whether an active license backs the state.
func (s State) Licensed() bool { return s.License != nil && s.License.Active }

// SlotMax is the number of tools that may be active.
func (s State) SlotMax() int {
	if s.Licensed() {
		return s.Slots.PremiumSlots
	}
	return s.Slots.FreeSlots
}

// ActiveTools returns the chosen tools in choice order.
func (s State) ActiveTools() []Tool {
	out := make([]Tool, len(s.Slots.Chosen))
	for i, c := range s.Slots.Chosen {
		out[i] = c.Tool
	}
	return out
}

func (s State) active(t Tool) bool {
	for _, c := range s.Slots.Chosen {
		if c.Tool == t {
			return true
		}
	}
	return false
}

// clone copies the parts of s that are reachable through pointers or slices.
func (s State) clone() State {
	if s.License != nil {
		l := *s.License
		s.License = &l
	}
	s.Slots.Chosen = slices.Clone(s.Slots.Chosen)
	return s
}

// normalize repairs a state read from storage: slot counts get their
// defaults, unknown tools are dropped, and the chosen set fits the slot max.
func (s State) normalize() State {
	if s.Slots.FreeSlots <= 0 {
		s.Slots.FreeSlots = FreeSlots
	}
	if s.Slots.PremiumSlots < s.Slots.FreeSlots {
		s.Slots.PremiumSlots = PremiumSlots
	}
	if s.Phase == "" {
		s.Phase = PhaseFree
	}
	seen := make(map[Tool]bool)
	chosen := s.Slots.Chosen[:0:0]
	for _, c := range s.Slots.Chosen {
		if c.Tool.Valid() && !seen[c.Tool] {
			seen[c.Tool] = true
			chosen = append(chosen, c)
			s.Slots.NextSeq = max(s.Slots.NextSeq, c.Seq+1)
		}
	}
	s.Slots.Chosen = chosen
	s.Slots = s.Slots.truncate(s.SlotMax())
	return s
}
