// Package router implements the callback router (spec C3): it owns the
// host-capability bus's receiver end and, for each request, applies the
// configured capability gate, dispatches to the right capability, and
// writes the response back on the request's reply channel. Grounded on
// original_source/policy-evaluator/src/callback_handler/mod.rs's single
// select-loop-over-receiver pattern, translated into a goroutine-per-request
// dispatch loop so independent, I/O-bound capability calls run concurrently
// (spec §4.3).
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/internal/capabilities"
	"github.com/kubewarden/policy-engine/internal/kubeplane"
	"github.com/kubewarden/policy-engine/internal/metrics"
	"github.com/kubewarden/policy-engine/internal/verify"
)

// Router owns a bus's receiver end for the lifetime of an engine process.
type Router struct {
	bus    *bus.Bus
	gate   *Gate
	logger *slog.Logger

	registry capabilities.Registry
	dns      capabilities.DNSResolver
	verifier *verify.Verifier
	plane    *kubeplane.Plane

	mode    bus.ProxyMode
	journal *bus.Journal

	recorder *metrics.Recorder
}

// Config collects a Router's collaborators.
type Config struct {
	Bus      *bus.Bus
	Gate     *Gate
	Registry capabilities.Registry
	DNS      capabilities.DNSResolver
	Verifier *verify.Verifier
	Plane    *kubeplane.Plane
	Mode     bus.ProxyMode
	Journal  *bus.Journal // required unless Mode == bus.ModeDirect
	Recorder *metrics.Recorder // optional; nil disables metrics
	Logger   *slog.Logger
}

// New builds a Router from cfg. If cfg.Gate is nil, every capability family
// is allowed.
func New(cfg Config) *Router {
	gate := cfg.Gate
	if gate == nil {
		gate = AllowAll()
	}
	return &Router{
		bus:      cfg.Bus,
		gate:     gate,
		logger:   cfg.Logger.With("component", "router"),
		registry: cfg.Registry,
		dns:      cfg.DNS,
		verifier: cfg.Verifier,
		plane:    cfg.Plane,
		mode:     cfg.Mode,
		journal:  cfg.Journal,
		recorder: cfg.Recorder,
	}
}

// Run pulls requests off the bus until it is shut down, dispatching each to
// its own goroutine so independent I/O-bound capability calls overlap, then
// waits for every in-flight dispatch to finish before returning — the
// "drains in-flight work" half of spec §4.3's shutdown contract.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for {
		req, ok := r.bus.Receive()
		if !ok {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handle(ctx, req)
		}()
	}
	wg.Wait()
}

func (r *Router) handle(ctx context.Context, req *bus.Request) {
	verb := req.Verb

	if !r.gate.Allows(verb) {
		err := errCapabilityDenied(verb)
		r.recordBusRequest(ctx, verb, err)
		req.Reply(nil, err)
		return
	}

	if r.mode == bus.ModeReplay {
		replyJSON, callErr, found := r.journal.Lookup(verb, req.Payload)
		if !found {
			err := errReplayMiss(verb)
			r.recordBusRequest(ctx, verb, err)
			req.Reply(nil, err)
			return
		}
		if callErr != nil {
			r.recordBusRequest(ctx, verb, callErr)
			req.Reply(nil, callErr)
			return
		}
		resp, err := decodeReply(verb, replyJSON)
		r.recordBusRequest(ctx, verb, err)
		req.Reply(resp, err)
		return
	}

	resp, err := r.dispatch(ctx, verb, req.Payload)

	if r.mode == bus.ModeRecord {
		if recErr := r.journal.Record(verb, req.Payload, resp, err); recErr != nil {
			r.logger.Warn("failed to record journal entry", "verb", verb, "error", recErr)
		}
	}

	r.recordBusRequest(ctx, verb, err)
	req.Reply(resp, err)
}

func (r *Router) recordBusRequest(ctx context.Context, verb bus.Verb, err error) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordBusRequest(ctx, string(verb), err)
}

func errCapabilityDenied(verb bus.Verb) error {
	return &capabilityError{verb: verb, reason: "capability is not permitted for this policy"}
}

func errReplayMiss(verb bus.Verb) error {
	return &capabilityError{verb: verb, reason: "no recorded response for this request in the replay journal"}
}

type capabilityError struct {
	verb   bus.Verb
	reason string
}

func (e *capabilityError) Error() string {
	return "host capability " + string(e.verb) + ": " + e.reason
}
