// Package bus implements the Publication Bus (spec §4.7): in-process
// fan-out of DispatchInfo records to subscription channels. Grounded on
// the teacher's indexing/emitter/finality.go buffer-until-finalised
// pattern, generalised from a single confirmations-depth buffer wrapping
// one Emitter to a multi-predicate subscriber registry over DispatchInfo,
// with the depth-gated subscription kind reusing the same
// pending-by-height bookkeeping as the teacher's FinalityBuffer.
package bus

import (
	"sync"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/indexing/metrics"
)

// Topic names the four subscription kinds spec §4.7 names.
type Topic string

const (
	TopicNewBlocks          Topic = "NEW_BLOCKS"
	TopicNewBlocksFromDepth Topic = "NEW_BLOCKS_FROM_DEPTH"
	TopicEvents             Topic = "EVENTS"
	TopicTransaction        Topic = "TRANSACTION"
)

// Predicate filters DispatchInfo values for a subscription.
type Predicate func(domain.DispatchInfo) bool

// EventNamePredicate matches dispatches carrying the given qualified
// event name (EVENTS subscription, spec §4.7).
func EventNamePredicate(qualifiedName string) Predicate {
	return func(d domain.DispatchInfo) bool {
		for _, n := range d.QualifiedEventNames {
			if n == qualifiedName {
				return true
			}
		}
		return false
	}
}

// RequestKeyPredicate matches the dispatch carrying the given request key
// (TRANSACTION subscription, spec §4.7).
func RequestKeyPredicate(requestKey string) Predicate {
	return func(d domain.DispatchInfo) bool {
		for _, rk := range d.RequestKeys {
			if rk == requestKey {
				return true
			}
		}
		return false
	}
}

// AllPredicate matches every dispatch (NEW_BLOCKS subscription).
func AllPredicate(domain.DispatchInfo) bool { return true }

type subscriber struct {
	topic     Topic
	predicate Predicate
	ch        chan domain.DispatchInfo
}

// Bus fans out DispatchInfo values published after a Materialiser
// transaction commits. subscribe(predicate) returns a channel that only
// the matching values are pushed to (spec §4.7); publish is non-blocking
// per subscriber via a buffered channel, matching the teacher's habit of
// never letting one slow consumer stall the emitter.
type Bus struct {
	mu              sync.RWMutex
	subscribers     []*subscriber
	depthBuffer     map[domain.ChainID]map[uint64]domain.DispatchInfo // chainId -> height -> dispatch, pending confirmation
	confirmations   uint64
	tipHeight       map[domain.ChainID]uint64
}

// New constructs a Bus. confirmations is the depth NEW_BLOCKS_FROM_DEPTH
// subscribers require before a dispatch is released (spec §4.7).
func New(confirmations uint64) *Bus {
	return &Bus{
		depthBuffer:   make(map[domain.ChainID]map[uint64]domain.DispatchInfo),
		tipHeight:     make(map[domain.ChainID]uint64),
		confirmations: confirmations,
	}
}

// Subscribe registers a new subscriber for topic, filtered by predicate.
// The returned channel is buffered (256); Publish never blocks on it, so
// values published while the buffer is full are dropped for this
// subscriber.
func (b *Bus) Subscribe(topic Topic, predicate Predicate) <-chan domain.DispatchInfo {
	ch := make(chan domain.DispatchInfo, 256)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, &subscriber{topic: topic, predicate: predicate, ch: ch})
	b.mu.Unlock()
	return ch
}

// Publish fans d out to every matching NEW_BLOCKS/EVENTS/TRANSACTION
// subscriber immediately, and feeds the depth-gated buffer that
// NEW_BLOCKS_FROM_DEPTH subscribers drain once d's chain tip advances far
// enough past d.Height (spec §4.7: "yields only once the block has >=N
// confirmations"). Called by pipelines only after their owning
// transaction has committed (spec §4.7: "on rollback, discarded" — the
// caller simply never calls Publish for a rolled-back transaction).
func (b *Bus) Publish(d domain.DispatchInfo) {
	b.deliver(TopicNewBlocks, d)
	b.deliver(TopicEvents, d)
	b.deliver(TopicTransaction, d)

	b.mu.Lock()
	if d.Height > b.tipHeight[d.ChainID] {
		b.tipHeight[d.ChainID] = d.Height
	}
	if b.depthBuffer[d.ChainID] == nil {
		b.depthBuffer[d.ChainID] = make(map[uint64]domain.DispatchInfo)
	}
	b.depthBuffer[d.ChainID][d.Height] = d
	releasable := b.collectReleasable(d.ChainID)
	b.mu.Unlock()

	for _, r := range releasable {
		b.deliver(TopicNewBlocksFromDepth, r)
	}
}

// collectReleasable returns and removes every buffered dispatch on
// chainID that has reached the confirmation depth. Caller holds b.mu.
func (b *Bus) collectReleasable(chainID domain.ChainID) []domain.DispatchInfo {
	tip := b.tipHeight[chainID]
	if tip < b.confirmations {
		return nil
	}
	safe := tip - b.confirmations

	var out []domain.DispatchInfo
	for height, d := range b.depthBuffer[chainID] {
		if height <= safe {
			out = append(out, d)
			delete(b.depthBuffer[chainID], height)
		}
	}
	return out
}

func (b *Bus) deliver(topic Topic, d domain.DispatchInfo) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers {
		if s.topic != topic || !s.predicate(d) {
			continue
		}
		select {
		case s.ch <- d:
			metrics.PublicationsDispatched.WithLabelValues(string(topic)).Inc()
		default:
			// Slow subscriber; drop rather than block the publisher
			// (spec §1 non-goal: exactly-once delivery is not promised).
		}
	}
}

// DiscardChain removes every buffered depth-gated dispatch for chainID at
// or above fromHeight, used when a reorg orphans a pending block before
// it reaches confirmation depth.
func (b *Bus) DiscardChain(chainID domain.ChainID, fromHeight uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for height := range b.depthBuffer[chainID] {
		if height >= fromHeight {
			delete(b.depthBuffer[chainID], height)
		}
	}
}
