package otp

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of a challenge.
type State string

const (
	StateNotRequested State = "not_requested"
	StateRequested    State = "requested"
	StateResent       State = "resent"
	StateVerified     State = "verified"
	StateExpired      State = "expired"
)

// DefaultValidity is how long an issued code is accepted for submission.
const DefaultValidity = 5 * time.Minute

// Challenge is the OTP lifecycle of one wizard. Each wizard owns its own, so a
// cooldown never blocks a different flow for the same phone.
type Challenge struct {
	client   *Client
	clock    clockwork.Clock
	cooldown time.Duration
	validity time.Duration
	onTick   func(time.Duration)

	mu       sync.Mutex
	phone    string
	state    State
	issuedAt time.Time
	resends  int
	timer    *Cooldown
}

type ChallengeOption func(*Challenge)

func WithClock(clock clockwork.Clock) ChallengeOption {
	return func(c *Challenge) { c.clock = clock }
}

func WithValidity(d time.Duration) ChallengeOption {
	return func(c *Challenge) {
		if d > 0 {
			c.validity = d
		}
	}
}

func WithCooldown(d time.Duration) ChallengeOption {
	return func(c *Challenge) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithTickHandler receives the remaining cooldown once per second.
func WithTickHandler(fn func(time.Duration)) ChallengeOption {
	return func(c *Challenge) { c.onTick = fn }
}

func NewChallenge(client *Client, opts ...ChallengeOption) *Challenge {
	c := &Challenge{
		client:   client,
		clock:    clockwork.NewRealClock(),
		cooldown: ResendCooldown,
		validity: DefaultValidity,
		state:    StateNotRequested,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request issues a code for phone and starts the resend cooldown.
func (c *Challenge) Request(ctx context.Context, phone string) (Result, error) {
	c.mu.Lock()
	if c.timer.Active() && c.phone == phone {
		c.mu.Unlock()
		return Result{}, ErrCooldownActive
	}
	c.mu.Unlock()

	res, err := c.client.send(ctx, phone, "request")
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.phone = phone
	c.state = StateRequested
	c.resends = 0
	c.restartLocked()
	return res, nil
}

// Resend is rejected without a network call while the cooldown runs.
func (c *Challenge) Resend(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state == StateNotRequested {
		c.mu.Unlock()
		return Result{}, ErrNotRequested
	}
	if c.timer.Active() {
		c.mu.Unlock()
		return Result{}, ErrCooldownActive
	}
	phone := c.phone
	c.mu.Unlock()

	res, err := c.client.send(ctx, phone, "resend")
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateResent
	c.resends++
	c.restartLocked()
	return res, nil
}

// restartLocked must be called with mu held.
func (c *Challenge) restartLocked() {
	c.timer.Release()
	c.issuedAt = c.clock.Now()
	c.timer = StartCooldown(c.clock, c.cooldown, c.onTick)
}

// State reports expiry lazily from the issue time.
func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Challenge) stateLocked() State {
	if (c.state == StateRequested || c.state == StateResent) && c.clock.Since(c.issuedAt) > c.validity {
		return StateExpired
	}
	return c.state
}

// Live reports whether an unexpired code is already out for phone.
func (c *Challenge) Live(phone string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stateLocked() {
	case StateRequested, StateResent:
		return c.phone == phone
	}
	return false
}

// Usable returns nil when a code has been issued and has not expired.
func (c *Challenge) Usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stateLocked() {
	case StateNotRequested:
		return ErrNotRequested
	case StateExpired:
		return ErrExpired
	}
	return nil
}

func (c *Challenge) CanResend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateNotRequested && !c.timer.Active()
}

func (c *Challenge) CooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer.Remaining()
}

// MarkVerified records that the backend accepted the code and releases the timer.
func (c *Challenge) MarkVerified() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateVerified
	c.timer.Release()
}

// Release frees the cooldown timer. Called on wizard teardown.
func (c *Challenge) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer.Release()
}

// View is the client-facing snapshot.
type View struct {
	State                    State      `json:"state"`
	CanResend                bool       `json:"can_resend"`
	CooldownRemainingSeconds int        `json:"cooldown_remaining_seconds"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
	Resends                  int        `json:"resends"`
}

func (c *Challenge) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		State:                    c.stateLocked(),
		CanResend:                c.state != StateNotRequested && !c.timer.Active(),
		CooldownRemainingSeconds: c.timer.RemainingSeconds(),
		Resends:                  c.resends,
	}
	if !c.issuedAt.IsZero() {
		exp := c.issuedAt.Add(c.validity)
		v.ExpiresAt = &exp
	}
	return v
}
