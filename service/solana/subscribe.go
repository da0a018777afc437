package solana

import (
	"context"
	"time"
)

// SubscribeAccountChanges streams change events for address until ctx is
// cancelled or the underlying stream ends; the channel is closed in both
// cases. Callers that want a permanent subscription re-subscribe when the
// channel closes while they are still interested.
//
// With a stream dialer configured this is a websocket accountSubscribe.
// Otherwise the newest signature is polled and an event is emitted whenever
// it changes.
func (c *Client) SubscribeAccountChanges(ctx context.Context, address string) (<-chan ChangeEvent, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	out := make(chan ChangeEvent, 1)

	if c.dialer != nil {
		stream, err := c.dialer.AccountSubscribe(ctx, pk)
		if err != nil {
			return nil, err
		}
		go func() {
			defer close(out)
			defer stream.Unsubscribe()
			for {
				res, err := stream.Recv(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.WarnContext(ctx, "account subscription ended",
							"address", address,
							"error", err,
						)
					}
					return
				}
				ev := ChangeEvent{Address: address, ReceivedAt: time.Now().UTC()}
				if res != nil {
					ev.Slot = res.Context.Slot
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}

	last, err := c.LatestSignature(ctx, address)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(out)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			latest, err := c.LatestSignature(ctx, address)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WarnContext(ctx, "poll for latest signature failed",
					"address", address,
					"error", err,
				)
				continue
			}
			if latest == "" || latest == last {
				continue
			}
			last = latest
			select {
			case out <- ChangeEvent{Address: address, ReceivedAt: time.Now().UTC()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
