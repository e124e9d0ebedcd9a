// Package bus implements the host-capability bus (spec C1): a bounded,
// multi-producer single-consumer request stream with per-request reply
// channels, used by guest Wasm policies to reach controlled host
// capabilities. Modeled on the mpsc + oneshot-reply pair the upstream
// kwctl/policy-evaluator callback handler uses, translated to Go channels.
package bus

import (
	"context"
	"errors"
	"fmt"
)

// Verb identifies one of the recognised host-capability requests (spec §4.1).
type Verb string

const (
	VerbOciManifest                                    Verb = "OciManifest"
	VerbOciManifestDigest                               Verb = "OciManifestDigest"
	VerbOciManifestAndConfig                            Verb = "OciManifestAndConfig"
	VerbSigstoreVerify                                  Verb = "SigstoreVerify"
	VerbDNSLookupHost                                    Verb = "DnsLookupHost"
	VerbKubernetesListResourceAll                       Verb = "KubernetesListResourceAll"
	VerbKubernetesListResourceByNamespace                Verb = "KubernetesListResourceByNamespace"
	VerbKubernetesGetResource                           Verb = "KubernetesGetResource"
	VerbKubernetesGetResourcePluralName                 Verb = "KubernetesGetResourcePluralName"
	VerbKubernetesCanI                                  Verb = "KubernetesCanI"
	VerbHasKubernetesListResourceAllResultChangedSince   Verb = "HasKubernetesListResourceAllResultChangedSinceInstant"
)

// Request is a single host-call request: a verb, an opaque, canonically
// serialisable payload, and a private single-use reply channel. Lifetime:
// created by a guest call, destroyed when the response is delivered or when
// the bus is shut down.
type Request struct {
	Verb    Verb
	Payload any
	reply   chan Response
}

// Response is the reply delivered on a Request's private channel. Exactly
// one of Payload or Err is set.
type Response struct {
	Payload any
	Err     error
}

// newRequest allocates a request with a buffered, single-use reply channel.
func newRequest(verb Verb, payload any) *Request {
	return &Request{Verb: verb, Payload: payload, reply: make(chan Response, 1)}
}

// Bus is the bounded channel every guest instance sends host-call requests
// on. The callback router (C3) exclusively owns the receiver end; guest
// instances hold a shared, clone-cheap sender handle.
type Bus struct {
	requests chan *Request
	done     chan struct{}
}

// New creates a bus with the given bound. Senders back-pressure once it is full.
func New(size int) *Bus {
	if size <= 0 {
		size = 1
	}
	return &Bus{
		requests: make(chan *Request, size),
		done:     make(chan struct{}),
	}
}

// Sender is the guest-visible handle used to issue host calls. It is safe to
// share between goroutines/instances; cloning it is just copying the struct.
type Sender struct {
	bus *Bus
}

// Sender returns a new handle for issuing requests on this bus.
func (b *Bus) Sender() Sender { return Sender{bus: b} }

// Call posts a request and blocks the calling goroutine until the response
// arrives, the context is cancelled, or the bus is shut down. This is the
// synchronous host-call pattern used by message-oriented and policy-as-data
// guests: the guest's execution thread blocks on the reply channel while the
// router handles the request on the async side (spec §5).
func (s Sender) Call(ctx context.Context, verb Verb, payload any) (any, error) {
	req := newRequest(verb, payload)

	select {
	case s.bus.requests <- req:
	case <-s.bus.done:
		return nil, fmt.Errorf("host-capability bus: %w", errCancelled)
	case <-ctx.Done():
		return nil, fmt.Errorf("host-capability bus: %w", ctx.Err())
	}

	select {
	case resp, ok := <-req.reply:
		if !ok {
			return nil, fmt.Errorf("host-capability bus: %w", errCancelled)
		}
		if resp.Err != nil {
			return nil, resp.Err
		}
		return resp.Payload, nil
	case <-s.bus.done:
		return nil, fmt.Errorf("host-capability bus: %w", errCancelled)
	case <-ctx.Done():
		return nil, fmt.Errorf("host-capability bus: %w", ctx.Err())
	}
}

// Receive is used exclusively by the callback router to pull the next
// request off the bus, or learn that shutdown has begun.
func (b *Bus) Receive() (*Request, bool) {
	select {
	case req := <-b.requests:
		return req, true
	case <-b.done:
		return nil, false
	}
}

// Reply delivers a response on the request's private channel. Dropping a
// reply channel without calling Reply surfaces as a failure to the caller
// once the bus shuts down; Reply itself never blocks thanks to the
// single-slot buffer allocated in newRequest.
func (req *Request) Reply(payload any, err error) {
	req.reply <- Response{Payload: payload, Err: err}
	close(req.reply)
}

// Shutdown closes the done signal: every pending or later Call returns a
// cancellation error and Receive reports that shutdown has begun. Reply
// channels are not closed here. Shutdown is idempotent.
func (b *Bus) Shutdown() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

var errCancelled = cancellationError{}

type cancellationError struct{}

func (cancellationError) Error() string { return "bus shut down" }

// IsCancellation reports whether err originates from a bus shutdown.
func IsCancellation(err error) bool {
	var c cancellationError
	return errors.As(err, &c)
}
