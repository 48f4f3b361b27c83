package reader

import (
	"context"
	"fmt"

	"cryptostream/processor"
)

// Resubscriber resyncs a book by unsubscribing and subscribing again on the
// live connection. It suits venues that open every subscription with a
// full snapshot.
type Resubscriber struct {
	Connector   Connector
	Unsubscribe func(subs []ExchangeSub) ([]WsMessage, error)
}

func (r Resubscriber) Resync(ctx context.Context, req processor.ResyncRequest, conn *Connection) (*processor.BookUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channel, market := req.ID.Split()
	subs := []ExchangeSub{{Channel: channel, Market: market}}

	var msgs []WsMessage
	if r.Unsubscribe != nil {
		unsub, err := r.Unsubscribe(subs)
		if err != nil {
			return nil, fmt.Errorf("build unsubscribe: %w", err)
		}
		msgs = append(msgs, unsub...)
	}
	sub, err := r.Connector.Requests(subs)
	if err != nil {
		return nil, fmt.Errorf("build subscribe: %w", err)
	}
	msgs = append(msgs, sub...)

	for _, msg := range msgs {
		if err := conn.Write(msg); err != nil {
			return nil, fmt.Errorf("resubscribe %s: %w", req.ID, err)
		}
	}
	return nil, nil
}
