// Package paymentstest provides an in-memory gateway for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/digistore1/digistore-backend/internal/payments"
)

// Gateway is a scriptable payments.Adapter. Intents are authorized on
// creation and captured for their full amount unless a hook overrides it.
type Gateway struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*payments.Result

	// CaptureFunc, when set, replaces the default capture behaviour.
	CaptureFunc func(ref string, intent payments.Result) (*payments.Result, error)
	CreateErr   error

	Created  []payments.IntentRequest
	Captures []string
	Lookups  []string
	Voided   []string
}

func New() *Gateway {
	return &Gateway{intents: map[string]*payments.Result{}}
}

func (g *Gateway) Name() string { return "stripe" }

func (g *Gateway) CreateIntent(_ context.Context, req payments.IntentRequest) (*payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}
	g.seq++
	ref := fmt.Sprintf("pi_test_%d", g.seq)
	outcome := payments.OutcomeAuthorized
	if req.AutoCapture {
		outcome = payments.OutcomePending
	}
	g.intents[ref] = &payments.Result{Outcome: outcome, Ref: ref, AmountCents: req.AmountCents, Currency: req.Currency}
	g.Created = append(g.Created, req)
	return &payments.Intent{Provider: g.Name(), Ref: ref, ClientSecret: ref + "_secret", Outcome: outcome}, nil
}

func (g *Gateway) Capture(_ context.Context, ref, _ string) (*payments.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Captures = append(g.Captures, ref)
	intent, ok := g.intents[ref]
	if !ok {
		return nil, fmt.Errorf("unknown intent %s", ref)
	}
	if g.CaptureFunc != nil {
		res, err := g.CaptureFunc(ref, *intent)
		if res != nil {
			*intent = *res
		}
		return res, err
	}
	intent.Outcome = payments.OutcomeCompleted
	intent.CaptureRef = "ch_" + ref
	res := *intent
	return &res, nil
}

func (g *Gateway) Lookup(_ context.Context, ref string) (*payments.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Lookups = append(g.Lookups, ref)
	intent, ok := g.intents[ref]
	if !ok {
		return nil, fmt.Errorf("unknown intent %s", ref)
	}
	res := *intent
	return &res, nil
}

func (g *Gateway) Void(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Voided = append(g.Voided, ref)
	if intent, ok := g.intents[ref]; ok {
		intent.Outcome = payments.OutcomeVoided
	}
	return nil
}

// Set overwrites the gateway-side state of an intent, simulating an
// out-of-band capture or decline.
func (g *Gateway) Set(ref string, res payments.Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res.Ref = ref
	g.intents[ref] = &res
}
