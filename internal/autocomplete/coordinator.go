// Package autocomplete drives place suggestions for one text field: debounced queries,
// stale-result discard, and explicit selection.
package autocomplete

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/telemetry"
)

var (
	// ErrStaleResult marks a completion for a query that was superseded. It is never surfaced.
	ErrStaleResult = errors.New("stale autocomplete result")
	// ErrNoSuggestion indicates a selection index outside the current suggestions.
	ErrNoSuggestion = errors.New("no such suggestion")
	// ErrClosed indicates the coordinator was closed.
	ErrClosed = errors.New("autocomplete coordinator closed")
)

const (
	// DefaultDebounce is the quiet period after the last keystroke before a query is issued.
	DefaultDebounce = 400 * time.Millisecond
	// DefaultThreshold is the longest text that never issues a query.
	DefaultThreshold = 3
	// DefaultTimeout bounds one suggestion query.
	DefaultTimeout = 5 * time.Second
)

// Suggester returns place suggestions for a partial text.
type Suggester interface {
	Autocomplete(ctx context.Context, text string) ([]geo.PlaceFeature, error)
}

// Phase is the coordinator's position in the suggestion cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "pending"
	PhaseFetching Phase = "fetching"
	PhaseSettled  Phase = "settled"
	PhaseResolved Phase = "resolved"
)

// State is a plain snapshot of one field.
type State struct {
	Field       string             `json:"field"`
	Phase       Phase              `json:"phase"`
	Text        string             `json:"text"`
	Suggestions []geo.PlaceFeature `json:"suggestions"`
	Loading     bool               `json:"loading"`
	Resolved    bool               `json:"resolved"`
	Selected    *geo.PlaceFeature  `json:"selected,omitempty"`
	Error       string             `json:"error,omitempty"`
	// Version increases with every change.
	Version uint64 `json:"version"`
}

func (s State) clone() State {
	if s.Suggestions != nil {
		// An empty list stays non-nil: a settled field with no matches is not an unset one.
		suggestions := make([]geo.PlaceFeature, len(s.Suggestions))
		copy(suggestions, s.Suggestions)
		s.Suggestions = suggestions
	}
	if s.Selected != nil {
		sel := *s.Selected
		s.Selected = &sel
	}
	return s
}

// Config holds configuration for a Coordinator.
type Config struct {
	// Field names the input this coordinator serves, for logs and metrics.
	Field string

	// Suggester answers queries (required).
	Suggester Suggester

	// Debounce is the trailing-edge debounce delay (default: 400ms).
	Debounce time.Duration

	// Threshold is the longest text, in characters, that never issues a query (default: 3).
	Threshold int

	// Timeout bounds each query (default: 5s).
	Timeout time.Duration

	// OnChange receives every new state, in order. It must not block for long.
	OnChange func(State)

	// Metrics counts discarded stale completions (optional).
	Metrics *telemetry.PipelineMetrics

	// Logger for coordinator events.
	Logger zerolog.Logger
}

// session is the query in progress for the current text. It is replaced, never
// modified, on each keystroke; a completion applies only if its token is still current.
type session struct {
	token uint64
	text  string
	timer *time.Timer
}

// Coordinator owns the autocomplete state of one field.
type Coordinator struct {
	field     string
	suggester Suggester
	debounce  time.Duration
	threshold int
	timeout   time.Duration
	onChange  func(State)
	metrics   *telemetry.PipelineMetrics
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	current *session
	tokens  uint64
	closed  bool

	notifyMu  sync.Mutex
	delivered uint64
}

// NewCoordinator creates a Coordinator in the idle phase.
func NewCoordinator(cfg Config) *Coordinator {
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		field:     cfg.Field,
		suggester: cfg.Suggester,
		debounce:  debounce,
		threshold: threshold,
		timeout:   timeout,
		onChange:  cfg.OnChange,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("field", cfg.Field).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     State{Field: cfg.Field, Phase: PhaseIdle},
	}
}

// Input records a keystroke. Texts no longer than the threshold clear the suggestions;
// longer texts restart the debounce timer. Re-entering the selected label is ignored.
func (c *Coordinator) Input(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state.Resolved && text == c.state.Text {
		c.mu.Unlock()
		return
	}

	c.invalidateLocked()

	next := State{Field: c.field, Text: text}
	if utf8.RuneCountInString(text) <= c.threshold {
		next.Phase = PhaseIdle
	} else {
		next.Phase = PhasePending
		// Keep showing the previous list until the new one arrives.
		next.Suggestions = c.state.Suggestions

		sess := &session{token: c.tokens, text: text}
		sess.timer = time.AfterFunc(c.debounce, func() { c.fire(sess) })
		c.current = sess
	}

	snap := c.setLocked(next)
	c.mu.Unlock()

	c.notify(snap)
}

// Select resolves the field to the suggestion at index.
func (c *Coordinator) Select(index int) (geo.PlaceFeature, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return geo.PlaceFeature{}, ErrClosed
	}
	if index < 0 || index >= len(c.state.Suggestions) {
		n := len(c.state.Suggestions)
		c.mu.Unlock()
		return geo.PlaceFeature{}, fmt.Errorf("%w: index %d of %d", ErrNoSuggestion, index, n)
	}
	feature := c.state.Suggestions[index]
	snap := c.resolveLocked(feature)
	c.mu.Unlock()

	c.notify(snap)
	return feature, nil
}

// Resolve sets the field to a place chosen outside the suggestion list.
func (c *Coordinator) Resolve(feature geo.PlaceFeature) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	snap := c.resolveLocked(feature)
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Clear empties the field and drops any pending or in-flight query.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.invalidateLocked()
	snap := c.setLocked(State{Field: c.field, Phase: PhaseIdle})
	c.mu.Unlock()

	c.notify(snap)
}

// State returns a snapshot of the field.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Close stops the debounce timer and abandons any in-flight query.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.invalidateLocked()
	c.cancel()
}

// fire runs when a session's debounce timer expires.
func (c *Coordinator) fire(sess *session) {
	c.mu.Lock()
	if c.closed || c.current != sess {
		c.mu.Unlock()
		return
	}

	next := c.state
	next.Phase = PhaseFetching
	next.Loading = true
	next.Error = ""
	snap := c.setLocked(next)
	c.mu.Unlock()

	c.notify(snap)

	c.logger.Debug().Str("text", sess.text).Uint64("token", sess.token).Msg("querying suggestions")

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	features, err := c.suggester.Autocomplete(ctx, sess.text)
	cancel()

	c.complete(sess, features, err)
}

// complete applies a query result if its session is still current.
func (c *Coordinator) complete(sess *session, features []geo.PlaceFeature, err error) {
	c.mu.Lock()
	if c.closed || c.current != sess || c.state.Text != sess.text {
		c.mu.Unlock()
		c.metrics.RecordStaleResult(context.Background(), c.field)
		c.logger.Debug().
			Err(ErrStaleResult).
			Str("text", sess.text).
			Uint64("token", sess.token).
			Msg("discarding superseded suggestions")
		return
	}
	c.current = nil

	next := c.state
	next.Phase = PhaseSettled
	next.Loading = false
	if err != nil {
		c.logger.Warn().Err(err).Str("text", sess.text).Msg("suggestion query failed")
		next.Suggestions = []geo.PlaceFeature{}
		next.Error = routing.UserMessage(err)
	} else {
		if features == nil {
			features = []geo.PlaceFeature{}
		}
		next.Suggestions = features
		next.Error = ""
	}
	snap := c.setLocked(next)
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Coordinator) resolveLocked(feature geo.PlaceFeature) State {
	c.invalidateLocked()
	sel := feature
	return c.setLocked(State{
		Field:    c.field,
		Phase:    PhaseResolved,
		Text:     feature.Label,
		Resolved: true,
		Selected: &sel,
	})
}

// invalidateLocked retires the current session so its timer and completion are ignored.
func (c *Coordinator) invalidateLocked() {
	c.tokens++
	if c.current != nil {
		c.current.timer.Stop()
		c.current = nil
	}
}

// setLocked replaces the state wholesale and returns a snapshot for notification.
func (c *Coordinator) setLocked(next State) State {
	next.Version = c.state.Version + 1
	c.state = next
	return next.clone()
}

// notify delivers snapshots in version order, dropping any older than one already delivered.
func (c *Coordinator) notify(snap State) {
	if c.onChange == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snap.Version <= c.delivered {
		return
	}
	c.delivered = snap.Version
	c.onChange(snap)
}
