// Package sse wraps the Tip Streamer's connection to
// GET /chainweb/0.0/{network}/block/updates (spec §4.3, §6). No pack repo
// consumes server-sent events; this uses github.com/r3labs/sse/v2, the
// ecosystem-standard SSE client (SPEC_FULL.md §3).
package sse

import (
	"context"
	"fmt"

	r3sse "github.com/r3labs/sse/v2"

	"github.com/vietddude/watcher/internal/core/domain"
	"github.com/vietddude/watcher/internal/infra/node"
)

// BlockHeaderEvent is the payload of a "BlockHeader" SSE event, already
// decoded from JSON.
type BlockHeaderEvent struct {
	node.Envelope
}

// Stream consumes block-update events for a network. The r3labs client
// auto-reconnects on connection errors (spec §4.3: "the SSE client is
// expected to auto-reconnect").
type Stream struct {
	client *r3sse.Client
	url    string
}

// NewStream builds a Stream against baseURL/{network}/block/updates.
func NewStream(baseURL string, network domain.Network) *Stream {
	url := fmt.Sprintf("%s/chainweb/0.0/%s/block/updates", baseURL, network)
	client := r3sse.NewClient(url)
	return &Stream{client: client, url: url}
}

// Subscribe delivers each BlockHeader event to handle until ctx is
// cancelled. Malformed events are dropped with an error passed to
// handle's onDecodeError so the caller can log and continue, matching
// spec §4.3's "connection errors are logged; the client reconnects".
func (s *Stream) Subscribe(ctx context.Context, handle func(BlockHeaderEvent), onDecodeError func(error)) error {
	events := make(chan *r3sse.Event)
	if err := s.client.SubscribeChanRawWithContext(ctx, events); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.url, err)
	}
	defer s.client.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev == nil || string(ev.Event) != "BlockHeader" {
				continue
			}
			var envelope node.Envelope
			if err := decodeEnvelope(ev.Data, &envelope); err != nil {
				onDecodeError(fmt.Errorf("decode BlockHeader event: %w", err))
				continue
			}
			handle(BlockHeaderEvent{Envelope: envelope})
		}
	}
}
