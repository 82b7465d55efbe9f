// Package faults surfaces consistency faults between the local ledger and the
// chain. Faults never stop the engine; they are logged apart from ordinary
// errors, kept for the admin API and mailed to the operator.
package faults

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Kind string

const (
	KindOwnershipDivergence Kind = "ownership_divergence"
	KindMissingToken        Kind = "missing_token"
	KindStuckMint           Kind = "stuck_mint"
	KindUnknownSubmission   Kind = "unknown_submission"
)

const defaultRealertAfter = time.Hour

type Fault struct {
	Kind         Kind      `json:"kind"`
	AssetID      int64     `json:"asset_id"`
	TokenID      string    `json:"token_id,omitempty"`
	LocalOwner   string    `json:"local_owner,omitempty"`
	OnchainOwner string    `json:"onchain_owner,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`

	// Count is how many passes observed the fault since it was last alerted.
	Count      int       `json:"count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type faultKey struct {
	kind         Kind
	assetID      int64
	tokenID      string
	onchainOwner string
}

func (f Fault) key() faultKey {
	return faultKey{kind: f.Kind, assetID: f.AssetID, tokenID: f.TokenID, onchainOwner: f.OnchainOwner}
}

func (f Fault) String() string {
	return fmt.Sprintf("%s on asset %d (token %q): local=%q onchain=%q %s",
		f.Kind, f.AssetID, f.TokenID, f.LocalOwner, f.OnchainOwner, f.Detail)
}

type Reporter interface {
	Report(ctx context.Context, f Fault)
}

// Alerter delivers a fault to a human. Implemented by sendemail.
type Alerter interface {
	SendFaultAlert(f Fault) error
}

// Recorder logs faults, keeps the most recent ones and forwards them to an
// optional Alerter. A fault seen again before the re-alert interval has passed
// only bumps the count of its existing entry.
type Recorder struct {
	mu           sync.Mutex
	recent       []Fault
	alerted      map[faultKey]time.Time
	max          int
	realertAfter time.Duration
	alerter      Alerter
	now          func() time.Time
}

func NewRecorder(max int, alerter Alerter) *Recorder {
	if max <= 0 {
		max = 100
	}
	return &Recorder{
		max:          max,
		alerter:      alerter,
		alerted:      make(map[faultKey]time.Time),
		realertAfter: defaultRealertAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetRealertInterval sets how long a repeated fault stays quiet.
func (r *Recorder) SetRealertInterval(d time.Duration) {
	if d <= 0 {
		d = defaultRealertAfter
	}
	r.mu.Lock()
	r.realertAfter = d
	r.mu.Unlock()
}

func (r *Recorder) Report(ctx context.Context, f Fault) {
	now := r.now()
	if f.DetectedAt.IsZero() {
		f.DetectedAt = now
	}
	f.LastSeenAt = now
	f.Count = 1

	fields := log.Fields{
		"consistency_fault": true,
		"kind":              f.Kind,
		"asset_id":          f.AssetID,
		"token_id":          f.TokenID,
		"local_owner":       f.LocalOwner,
		"onchain_owner":     f.OnchainOwner,
	}

	if !r.record(f, now) {
		log.WithFields(fields).Debug("consistency fault still present")
		return
	}
	log.WithFields(fields).Error(f.Detail)

	if r.alerter != nil {
		go func() {
			if err := r.alerter.SendFaultAlert(f); err != nil {
				log.WithError(err).WithField("asset_id", f.AssetID).Warn("failed to send fault alert")
			}
		}()
	}
}

// record stores f and reports whether it should be alerted. A fault already
// alerted within the re-alert interval is folded into its existing entry;
// otherwise f replaces any older entry with the same key.
func (r *Recorder) record(f Fault, now time.Time) bool {
	k := f.key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.alerted[k]; ok && now.Sub(last) < r.realertAfter {
		for i := len(r.recent) - 1; i >= 0; i-- {
			if r.recent[i].key() == k {
				r.recent[i].Count++
				r.recent[i].LastSeenAt = now
				break
			}
		}
		return false
	}

	for key, last := range r.alerted {
		if now.Sub(last) >= r.realertAfter {
			delete(r.alerted, key)
		}
	}
	r.alerted[k] = now

	kept := r.recent[:0]
	for _, old := range r.recent {
		if old.key() != k {
			kept = append(kept, old)
		}
	}
	r.recent = append(kept, f)
	if len(r.recent) > r.max {
		r.recent = r.recent[len(r.recent)-r.max:]
	}
	return true
}

// Recent returns faults newest first.
func (r *Recorder) Recent() []Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Fault, len(r.recent))
	for i, f := range r.recent {
		out[len(r.recent)-1-i] = f
	}
	return out
}
