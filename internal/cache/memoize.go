package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"protoscribe/pkg/logging"

	"go.uber.org/zap"
)

// Domain fixes the namespace and TTL policy for one class of cached
// results. TTLs follow how quickly each kind of result goes stale
// relative to its cost to recompute.
type Domain struct {
	Namespace string
	TTL       time.Duration
}

var (
	DomainTranscription = Domain{Namespace: "transcription", TTL: 24 * time.Hour}
	DomainDiarization   = Domain{Namespace: "diarization", TTL: 24 * time.Hour}
	DomainLLMResponse   = Domain{Namespace: "llm_response", TTL: 6 * time.Hour}
	DomainFileInfo      = Domain{Namespace: "file_info", TTL: time.Hour}
	DomainUserData      = Domain{Namespace: "user_data", TTL: 30 * time.Minute}
	DomainTemplate      = Domain{Namespace: "template", TTL: 12 * time.Hour}
	DomainFullResult    = Domain{Namespace: "full_result", TTL: time.Hour}
)

// Memoized wraps fn so repeated calls with an equivalent argument return
// the cached result without re-executing the body. The argument is
// canonicalized into a parameter bag for MakeKey, so field order and
// incidental formatting never affect the key. Pass a closure when
// memoizing a method: the receiver is never part of the key.
//
// If fn fails, the error propagates and nothing is cached. Cache-layer
// failures degrade to recomputation — the caller never sees them.
func Memoized[A, R any](store Store, d Domain, fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, arg A) (R, error) {
		var zero R

		params, err := paramBag(arg)
		if err != nil {
			// A key-construction failure is a programming error:
			// surface it loudly instead of risking false hits.
			return zero, err
		}

		key, err := MakeKey(d.Namespace, params)
		if err != nil {
			return zero, err
		}

		if data, ok, getErr := store.Get(ctx, key); getErr == nil && ok {
			var out R
			if err := json.Unmarshal(data, &out); err == nil {
				return out, nil
			}
			// Undecodable cached payload: recompute and overwrite.
			logging.L(ctx).Warn("cached payload undecodable, recomputing",
				zap.String("key", key),
				zap.String("namespace", d.Namespace),
			)
		}

		out, err := fn(ctx, arg)
		if err != nil {
			return zero, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			// The computed result still reaches the caller; only the
			// caching step is skipped.
			logging.L(ctx).Warn("memoized result not serializable, skipping cache",
				zap.String("key", key),
				zap.Error(err),
			)
			return out, nil
		}

		if err := store.Set(ctx, key, data, d.TTL, d.Namespace); err != nil {
			logging.L(ctx).Warn("memoized result not cached",
				zap.String("key", key),
				zap.Error(err),
			)
		}

		return out, nil
	}
}

// paramBag canonicalizes an arbitrary argument into the mapping MakeKey
// expects. Struct and map arguments become their field/key mapping;
// scalars and slices are wrapped under a single "arg" key.
func paramBag(arg any) (map[string]any, error) {
	raw, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}

	var bag map[string]any
	if err := json.Unmarshal(raw, &bag); err != nil {
		return map[string]any{"arg": json.RawMessage(raw)}, nil
	}
	return bag, nil
}
