package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 10 * time.Second

// AwaitHeadroom is added to a confirmation wait so the relayer's own timeout
// answers before the request does.
const AwaitHeadroom = 2 * time.Second

// Error kinds a relayer puts in a reply.
const (
	kindRejected = "rejected"
	kindTimeout  = "timeout"
	kindNotFound = "not_found"
)

type mintRequest struct {
	ContentURI   string `json:"content_uri"`
	OwnerAddress string `json:"owner_address"`
}

type transferRequest struct {
	TokenID     string `json:"token_id"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
}

type awaitRequest struct {
	Handle    TxHandle `json:"handle"`
	TimeoutMS int64    `json:"timeout_ms"`
}

type ownerRequest struct {
	TokenID string `json:"token_id"`
}

type walletRequest struct {
	UserID int64 `json:"user_id"`
}

type relayReply struct {
	Handle    TxHandle `json:"handle,omitempty"`
	TokenID   string   `json:"token_id,omitempty"`
	Address   string   `json:"address,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
}

// NATSRelay talks to an external signing relayer over NATS request/reply.
// The relayer holds the keys, signs, broadcasts and tracks confirmations.
type NATSRelay struct {
	nc             *nats.Conn
	prefix         string
	requestTimeout time.Duration
}

func ConnectNATS(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.WithField("url", url).Info("connected to NATS")
	return nc, nil
}

func NewNATSRelay(nc *nats.Conn, subjectPrefix string) *NATSRelay {
	if subjectPrefix == "" {
		subjectPrefix = "chain"
	}
	return &NATSRelay{nc: nc, prefix: subjectPrefix, requestTimeout: defaultRequestTimeout}
}

// SetRequestTimeout bounds every relayer call except confirmation waits.
func (r *NATSRelay) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		r.requestTimeout = d
	}
}

func (r *NATSRelay) subject(name string) string {
	return r.prefix + "." + name
}

func (r *NATSRelay) request(ctx context.Context, subject string, timeout time.Duration, payload any) (relayReply, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return relayReply{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := r.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return relayReply{}, fmt.Errorf("%w: %s: %v", ErrTimeout, subject, err)
		}
		return relayReply{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
	}

	var reply relayReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return relayReply{}, fmt.Errorf("%w: malformed reply on %s: %v", ErrUnavailable, subject, err)
	}
	return reply, replyError(reply)
}

func replyError(reply relayReply) error {
	if reply.Error == "" && reply.ErrorKind == "" {
		return nil
	}
	switch reply.ErrorKind {
	case kindRejected:
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	case kindTimeout:
		return fmt.Errorf("%w: %s", ErrTimeout, reply.Error)
	case kindNotFound:
		return fmt.Errorf("%w: %s", ErrTokenNotFound, reply.Error)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, reply.Error)
	}
}

func (r *NATSRelay) SubmitMint(ctx context.Context, contentURI, ownerAddress string) (TxHandle, error) {
	reply, err := r.request(ctx, r.subject("mint.submit"), r.requestTimeout, mintRequest{ContentURI: contentURI, OwnerAddress: ownerAddress})
	if err != nil {
		return "", err
	}
	if reply.Handle == "" {
		return "", fmt.Errorf("%w: relayer returned no handle", ErrUnavailable)
	}
	return reply.Handle, nil
}

func (r *NATSRelay) SubmitTransfer(ctx context.Context, tokenID, fromAddress, toAddress string) (TxHandle, error) {
	reply, err := r.request(ctx, r.subject("transfer.submit"), r.requestTimeout, transferRequest{TokenID: tokenID, FromAddress: fromAddress, ToAddress: toAddress})
	if err != nil {
		return "", err
	}
	if reply.Handle == "" {
		return "", fmt.Errorf("%w: relayer returned no handle", ErrUnavailable)
	}
	return reply.Handle, nil
}

func (r *NATSRelay) AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error) {
	// The relayer waits up to timeout; leave headroom for the round trip.
	reply, err := r.request(ctx, r.subject("tx.await"), timeout+AwaitHeadroom, awaitRequest{Handle: handle, TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Handle: handle, TokenID: reply.TokenID}, nil
}

func (r *NATSRelay) CurrentOwner(ctx context.Context, tokenID string) (string, error) {
	reply, err := r.request(ctx, r.subject("token.owner"), r.requestTimeout, ownerRequest{TokenID: tokenID})
	if err != nil {
		return "", err
	}
	return reply.Address, nil
}

func (r *NATSRelay) AddressFor(ctx context.Context, userID int64) (string, error) {
	reply, err := r.request(ctx, r.subject("wallet.address"), r.requestTimeout, walletRequest{UserID: userID})
	if err != nil {
		return "", err
	}
	if reply.Address == "" {
		return "", fmt.Errorf("%w: relayer returned no address for user %d", ErrUnavailable, userID)
	}
	return reply.Address, nil
}
