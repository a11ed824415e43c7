package service

import (
	"context"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/censo/censo/backend/go-services/pkg/metrics"
)

// Decision is the outcome of comparing the local and remote copies.
type Decision string

const (
	DecisionNoop       Decision = "noop"
	DecisionPushLocal  Decision = "push_local"
	DecisionPushNewer  Decision = "push_newer"
	DecisionAdoptLocal Decision = "adopt_local"
	DecisionAdopt      Decision = "adopt_remote"
	DecisionKeepLocal  Decision = "keep_local"
)

// Decide compares the local copy against the remote one. The strictly newer
// copy overwrites the other store; a tie keeps both as they are.
func Decide(local, remote *record.Document) Decision {
	switch {
	case local == nil && remote == nil:
		return DecisionNoop
	case remote == nil:
		return DecisionPushLocal
	case local == nil:
		return DecisionAdopt
	case remote.NewerThan(local):
		return DecisionAdopt
	case local.NewerThan(remote):
		return DecisionPushNewer
	default:
		return DecisionKeepLocal
	}
}

// DeepSync reconciles the local cache, the in-memory record and the remote
// store. It is safe to call repeatedly; a decision is dropped when a local
// mutation lands while the copies are being fetched.
func (o *Orchestrator) DeepSync(ctx context.Context) error {
	seq := o.seq.Load()
	inMemory := o.Snapshot().Document

	cctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	cached, err := o.cache.Get(cctx, o.key)
	cancel()
	if err != nil {
		metrics.CacheFailures.WithLabelValues("get").Inc()
		logger.Warnf("record %s: deep sync could not read local cache: %v", o.key, err)
		cached = nil
	}
	local := inMemory
	if local == nil || (cached != nil && cached.NewerThan(local)) {
		local = cached
	}

	rctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	remote, err := o.remote.Fetch(rctx, o.key)
	cancel()
	if err != nil {
		metrics.DeepSyncs.WithLabelValues("failed").Inc()
		return err
	}

	decision := Decide(local, remote)
	// an in-memory copy ahead of the cache is written back on a tie
	if decision == DecisionKeepLocal && (inMemory == nil || cached == nil || local.NewerThan(cached)) {
		decision = DecisionAdoptLocal
	}
	metrics.DeepSyncs.WithLabelValues(string(decision)).Inc()
	logger.Debugf("record %s: deep sync decided %s", o.key, decision)

	ev := adoptEvent{seq: seq, reason: "deepsync", reply: make(chan error, 1)}
	switch decision {
	case DecisionNoop, DecisionKeepLocal:
		return nil
	case DecisionPushLocal:
		ev.push = local
	case DecisionPushNewer:
		ev.push = local
		ev.pushOn = remote.LastUpdated
	case DecisionAdoptLocal:
		ev.adopt = local
	case DecisionAdopt:
		ev.adopt = remote
	}
	if !o.post(ev) {
		return record.ErrClosed
	}
	return o.wait(ctx, ev.reply)
}
