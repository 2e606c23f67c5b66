package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"marketflow-engine/internal/market"
	"marketflow-engine/internal/venue"
)

// Subscribe requests kinds for one symbol on the targeted venues (all
// enabled venues when none are named). Validation failures return before
// any state changes; per-venue-per-kind subscriptions are at-most-once, so
// repeated calls are no-ops. Delivery failures do not raise: the key stays
// in the desired set and replays through the reconnect path.
func (e *Engine) Subscribe(ctx context.Context, symbol string, kinds []string, venues ...string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	sym, kds, rts, err := e.resolve(symbol, kinds, venues)
	if err != nil {
		return err
	}
	for _, rt := range rts {
		for _, kd := range kds {
			e.subscribeOne(ctx, rt, market.Subscription{Kind: kd, Symbol: sym})
		}
	}
	return nil
}

// Unsubscribe removes kinds for one symbol on the targeted venues. Keys
// that were never subscribed are no-ops.
func (e *Engine) Unsubscribe(ctx context.Context, symbol string, kinds []string, venues ...string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	sym, kds, rts, err := e.resolve(symbol, kinds, venues)
	if err != nil {
		return err
	}
	for _, rt := range rts {
		for _, kd := range kds {
			e.unsubscribeOne(ctx, rt, market.Subscription{Kind: kd, Symbol: sym})
		}
	}
	return nil
}

// BatchSubscribe subscribes many symbols concurrently, one goroutine per
// symbol. The whole batch is validated up front, so a bad entry fails it
// with no state change; no ordering across symbols is guaranteed.
func (e *Engine) BatchSubscribe(ctx context.Context, symbols []string, kinds []string, venues ...string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	syms, kds, rts, err := e.resolveBatch(symbols, kinds, venues)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, sym := range syms {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for _, rt := range rts {
				for _, kd := range kds {
					e.subscribeOne(ctx, rt, market.Subscription{Kind: kd, Symbol: sym})
				}
			}
		}(sym)
	}
	wg.Wait()
	return nil
}

// BatchUnsubscribe removes many symbols concurrently, one goroutine per
// symbol, validated up front like BatchSubscribe.
func (e *Engine) BatchUnsubscribe(ctx context.Context, symbols []string, kinds []string, venues ...string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	syms, kds, rts, err := e.resolveBatch(symbols, kinds, venues)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, sym := range syms {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for _, rt := range rts {
				for _, kd := range kds {
					e.unsubscribeOne(ctx, rt, market.Subscription{Kind: kd, Symbol: sym})
				}
			}
		}(sym)
	}
	wg.Wait()
	return nil
}

func (e *Engine) subscribeOne(ctx context.Context, rt *venueRuntime, sub market.Subscription) {
	if !rt.registry.Want(sub) {
		return
	}
	err := rt.pool.Subscribe(ctx, sub)
	switch {
	case err == nil:
	case errors.Is(err, venue.ErrUnsupported):
		// the venue has no channel for this kind in this class
		rt.registry.Drop(sub)
		log.Debug().
			Str("venue", string(rt.vn)).
			Str("subscription", sub.String()).
			Msg("Kind not supported by venue, skipped")
	default:
		// keep the key desired; the reconnect path replays it
		log.Warn().Err(err).
			Str("venue", string(rt.vn)).
			Str("subscription", sub.String()).
			Msg("Subscribe delivery failed, queued for replay")
		rt.reconnect.Kick()
	}
}

func (e *Engine) unsubscribeOne(ctx context.Context, rt *venueRuntime, sub market.Subscription) {
	if !rt.registry.Drop(sub) {
		return
	}
	if err := rt.pool.RemoveSubscription(ctx, sub); err != nil {
		// the key is out of the desired set either way; a dying socket
		// stops delivering on its own
		log.Warn().Err(err).
			Str("venue", string(rt.vn)).
			Str("subscription", sub.String()).
			Msg("Unsubscribe delivery failed")
	}
}

// resolve validates one facade call's inputs and maps them onto runtimes.
// Nothing is mutated here.
func (e *Engine) resolve(symbol string, kinds []string, venues []string) (string, []market.DataKind, []*venueRuntime, error) {
	sym, err := market.CanonicalSymbol(symbol)
	if err != nil {
		return "", nil, nil, err
	}
	kds, err := parseKinds(kinds)
	if err != nil {
		return "", nil, nil, err
	}
	rts, err := e.targets(venues)
	if err != nil {
		return "", nil, nil, err
	}
	return sym, kds, rts, nil
}

func (e *Engine) resolveBatch(symbols []string, kinds []string, venues []string) ([]string, []market.DataKind, []*venueRuntime, error) {
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym, err := market.CanonicalSymbol(s)
		if err != nil {
			return nil, nil, nil, err
		}
		syms = append(syms, sym)
	}
	kds, err := parseKinds(kinds)
	if err != nil {
		return nil, nil, nil, err
	}
	rts, err := e.targets(venues)
	if err != nil {
		return nil, nil, nil, err
	}
	return syms, kds, rts, nil
}

func parseKinds(kinds []string) ([]market.DataKind, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: empty kind list", market.ErrInvalidKind)
	}
	out := make([]market.DataKind, 0, len(kinds))
	for _, k := range kinds {
		kd, err := market.ParseKind(k)
		if err != nil {
			return nil, err
		}
		out = append(out, kd)
	}
	return out, nil
}

// targets resolves a venue filter to runtimes, all enabled venues in stable
// order when the filter is empty. Naming a venue that is not enabled is a
// validation error.
func (e *Engine) targets(venues []string) ([]*venueRuntime, error) {
	if len(venues) == 0 {
		out := make([]*venueRuntime, 0, len(e.venues))
		for _, vn := range market.Venues() {
			if rt, ok := e.venues[vn]; ok {
				out = append(out, rt)
			}
		}
		return out, nil
	}
	out := make([]*venueRuntime, 0, len(venues))
	for _, v := range venues {
		vn, err := market.ParseVenue(v)
		if err != nil {
			return nil, err
		}
		rt, ok := e.venues[vn]
		if !ok {
			return nil, fmt.Errorf("%w: %q not enabled", market.ErrUnknownVenue, v)
		}
		out = append(out, rt)
	}
	return out, nil
}
