package bus

import (
	"testing"
	"time"

	"github.com/vietddude/watcher/internal/core/domain"
)

func recv(t *testing.T, ch <-chan domain.DispatchInfo) domain.DispatchInfo {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
		return domain.DispatchInfo{}
	}
}

func TestBus_NewBlocksDeliversImmediately(t *testing.T) {
	b := New(0)
	ch := b.Subscribe(TopicNewBlocks, AllPredicate)

	b.Publish(domain.DispatchInfo{Hash: "h1", ChainID: 0, Height: 1})

	got := recv(t, ch)
	if got.Hash != "h1" {
		t.Fatalf("expected h1, got %s", got.Hash)
	}
}

func TestBus_EventsDeliveryFiltersByPredicate(t *testing.T) {
	b := New(0)
	ch := b.Subscribe(TopicEvents, EventNamePredicate("coin.TRANSFER"))

	b.Publish(domain.DispatchInfo{Hash: "h1", QualifiedEventNames: []string{"coin.TRANSFER"}})
	b.Publish(domain.DispatchInfo{Hash: "h2", QualifiedEventNames: []string{"other.EVENT"}})

	got := recv(t, ch)
	if got.Hash != "h1" {
		t.Fatalf("expected only h1 to match, got %s", got.Hash)
	}
	select {
	case d := <-ch:
		t.Fatalf("unexpected extra dispatch: %v", d)
	default:
	}
}

func TestBus_NewBlocksFromDepthWaitsForConfirmations(t *testing.T) {
	b := New(2)
	ch := b.Subscribe(TopicNewBlocksFromDepth, AllPredicate)

	b.Publish(domain.DispatchInfo{Hash: "h10", ChainID: 1, Height: 10})
	select {
	case d := <-ch:
		t.Fatalf("expected no release before confirmation depth, got %v", d)
	default:
	}

	b.Publish(domain.DispatchInfo{Hash: "h11", ChainID: 1, Height: 11})
	b.Publish(domain.DispatchInfo{Hash: "h12", ChainID: 1, Height: 12})

	got := recv(t, ch)
	if got.Hash != "h10" {
		t.Fatalf("expected h10 to be released at tip 12 with depth 2, got %s", got.Hash)
	}
}

func TestBus_DiscardChainRemovesBufferedDispatches(t *testing.T) {
	b := New(5)
	ch := b.Subscribe(TopicNewBlocksFromDepth, AllPredicate)

	b.Publish(domain.DispatchInfo{Hash: "h1", ChainID: 0, Height: 1})
	b.DiscardChain(0, 0)

	for i := 0; i < 10; i++ {
		b.Publish(domain.DispatchInfo{Hash: "filler", ChainID: 0, Height: uint64(i + 100)})
	}

	select {
	case d := <-ch:
		if d.Hash == "h1" {
			t.Fatalf("discarded dispatch h1 was still released")
		}
	default:
	}
}
