package chairclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// ErrSignInFlight is returned when a signature for the same entry is already pending.
var ErrSignInFlight = errors.New("signature already in progress")

const alreadySignedMessage = "Cover letter already signed"

// API is the subset of Client used by Dashboard.
type API interface {
	SignCoverLetter(ctx context.Context, entryID string) (SignResult, error)
	ListQueue(ctx context.Context) ([]CoverLetter, error)
}

// DashboardOptions tunes how transient failures are retried.
type DashboardOptions struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Dashboard keeps the chair's pending list and issues at most one signature per
// entry at a time.
type Dashboard struct {
	api  API
	opts DashboardOptions

	mu        sync.Mutex
	pending   []CoverLetter
	inFlight  map[string]struct{}
	lastError string
}

// NewDashboard builds a Dashboard backed by api.
func NewDashboard(api API, opts DashboardOptions) *Dashboard {
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 2 * time.Second
	}

	return &Dashboard{
		api:      api,
		opts:     opts,
		inFlight: make(map[string]struct{}),
	}
}

// Refresh reloads the pending list from the API.
func (d *Dashboard) Refresh(ctx context.Context) error {
	letters, err := d.api.ListQueue(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.lastError = err.Error()
		return err
	}
	d.pending = letters
	d.lastError = ""
	return nil
}

// Sign signs entryID. Only transient failures are retried. On success the entry
// leaves the pending list. A terminal failure reloads the pending list, and a
// conflict that follows a transient attempt counts as success once the entry is
// gone from the queue, since that attempt may have committed.
func (d *Dashboard) Sign(ctx context.Context, entryID string) (SignResult, error) {
	if !d.acquire(entryID) {
		return SignResult{}, ErrSignInFlight
	}
	defer d.release(entryID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.opts.InitialInterval
	policy.MaxInterval = d.opts.MaxInterval

	sawTransient := false
	result, err := backoff.Retry(ctx, func() (SignResult, error) {
		res, err := d.api.SignCoverLetter(ctx, entryID)
		if err != nil && !errors.Is(err, ErrTransient) {
			return SignResult{}, backoff.Permanent(err)
		}
		if err != nil {
			sawTransient = true
		}
		return res, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(d.opts.MaxTries))

	if err != nil && !errors.Is(err, ErrTransient) {
		if letters, listErr := d.api.ListQueue(ctx); listErr == nil {
			d.mu.Lock()
			d.pending = letters
			d.mu.Unlock()

			if sawTransient && errors.Is(err, ErrInvalidTransition) && !containsEntry(letters, entryID) {
				result = SignResult{Message: alreadySignedMessage, CoverLetter: CoverLetter{EntryID: entryID}}
				err = nil
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.lastError = err.Error()
		return SignResult{}, err
	}

	d.lastError = ""
	d.removeLocked(entryID)
	return result, nil
}

// Pending returns a copy of the letters awaiting signature.
func (d *Dashboard) Pending() []CoverLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]CoverLetter(nil), d.pending...)
}

// Count is the number shown on the pending summary card.
func (d *Dashboard) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// LastError returns the message of the most recent failure, or "".
func (d *Dashboard) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}

// InFlight reports whether a signature for entryID is pending.
func (d *Dashboard) InFlight(entryID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[entryID]
	return ok
}

// StageLabel returns the badge text for a stage.
func StageLabel(stage string) string {
	return workflow.Label(workflow.Stage(stage))
}

func (d *Dashboard) acquire(entryID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[entryID]; busy {
		return false
	}
	d.inFlight[entryID] = struct{}{}
	return true
}

func (d *Dashboard) release(entryID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, entryID)
}

func containsEntry(letters []CoverLetter, entryID string) bool {
	for _, letter := range letters {
		if letter.EntryID == entryID {
			return true
		}
	}
	return false
}

func (d *Dashboard) removeLocked(entryID string) {
	kept := make([]CoverLetter, 0, len(d.pending))
	for _, letter := range d.pending {
		if letter.EntryID != entryID {
			kept = append(kept, letter)
		}
	}
	d.pending = kept
}
