package chain

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Fault is an injected failure for the next submitted transaction.
type Fault int

const (
	// FaultSubmit makes the submission itself fail.
	FaultSubmit Fault = iota + 1
	// FaultReject confirms the transaction as rejected.
	FaultReject
	// FaultStall leaves the transaction pending until Settle is called.
	FaultStall
)

type txKind int

const (
	txMint txKind = iota
	txTransfer
)

type simTx struct {
	kind       txKind
	contentURI string
	tokenID    string
	from       string
	to         string
	done       chan struct{}
	settled    bool
	rejected   bool
	reason     string
}

// Simulator is an in-process chain used by the dev deployment and tests.
// Transactions confirm after ConfirmDelay unless a fault was injected.
type Simulator struct {
	mu           sync.Mutex
	confirmDelay time.Duration
	owners       map[string]string
	content      map[string]string
	txs          map[TxHandle]*simTx
	faults       []Fault
	nextToken    int64
}

func NewSimulator(confirmDelay time.Duration) *Simulator {
	return &Simulator{
		confirmDelay: confirmDelay,
		owners:       make(map[string]string),
		content:      make(map[string]string),
		txs:          make(map[TxHandle]*simTx),
	}
}

// InjectFault queues f for the next submission.
func (s *Simulator) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

func (s *Simulator) SubmitMint(ctx context.Context, contentURI, ownerAddress string) (TxHandle, error) {
	return s.submit(&simTx{kind: txMint, contentURI: contentURI, to: ownerAddress})
}

func (s *Simulator) SubmitTransfer(ctx context.Context, tokenID, fromAddress, toAddress string) (TxHandle, error) {
	return s.submit(&simTx{kind: txTransfer, tokenID: tokenID, from: fromAddress, to: toAddress})
}

func (s *Simulator) submit(tx *simTx) (TxHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fault Fault
	if len(s.faults) > 0 {
		fault = s.faults[0]
		s.faults = s.faults[1:]
	}
	if fault == FaultSubmit {
		return "", fmt.Errorf("%w: simulated submission failure", ErrUnavailable)
	}

	handle := TxHandle("0x" + uuid.NewString())
	tx.done = make(chan struct{})
	s.txs[handle] = tx

	switch fault {
	case FaultReject:
		s.settleLocked(tx, true, "simulated rejection")
	case FaultStall:
	default:
		if s.confirmDelay <= 0 {
			s.settleLocked(tx, false, "")
		} else {
			time.AfterFunc(s.confirmDelay, func() { s.Settle(handle) })
		}
	}
	return handle, nil
}

// Settle confirms a pending transaction, applying its effect.
func (s *Simulator) Settle(handle TxHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[handle]; ok {
		s.settleLocked(tx, false, "")
	}
}

// Pending returns the handles still awaiting confirmation.
func (s *Simulator) Pending() []TxHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TxHandle, 0)
	for h, tx := range s.txs {
		if !tx.settled {
			out = append(out, h)
		}
	}
	return out
}

func (s *Simulator) settleLocked(tx *simTx, reject bool, reason string) {
	if tx.settled {
		return
	}
	tx.settled = true
	switch {
	case reject:
		tx.rejected = true
		tx.reason = reason
	case tx.kind == txMint:
		s.nextToken++
		tx.tokenID = strconv.FormatInt(s.nextToken, 10)
		s.owners[tx.tokenID] = tx.to
		s.content[tx.tokenID] = tx.contentURI
	case tx.kind == txTransfer:
		owner, ok := s.owners[tx.tokenID]
		if !ok {
			tx.rejected = true
			tx.reason = "unknown token"
		} else if owner != tx.from {
			tx.rejected = true
			tx.reason = "sender does not own token"
		} else {
			s.owners[tx.tokenID] = tx.to
		}
	}
	if tx.rejected {
		log.WithField("reason", tx.reason).Debug("simulated tx rejected")
	}
	close(tx.done)
}

func (s *Simulator) AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error) {
	s.mu.Lock()
	tx, ok := s.txs[handle]
	s.mu.Unlock()
	if !ok {
		return Confirmation{}, ErrUnknownTx
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tx.done:
	case <-timer.C:
		return Confirmation{}, ErrTimeout
	case <-ctx.Done():
		return Confirmation{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.rejected {
		return Confirmation{}, fmt.Errorf("%w: %s", ErrRejected, tx.reason)
	}
	return Confirmation{Handle: handle, TokenID: tx.tokenID}, nil
}

func (s *Simulator) CurrentOwner(ctx context.Context, tokenID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[tokenID]
	if !ok {
		return "", ErrTokenNotFound
	}
	return owner, nil
}

// ForceOwner overwrites the owner of a token outside any transaction. It
// models a transfer made behind the ledger's back.
func (s *Simulator) ForceOwner(tokenID, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[tokenID] = owner
}
