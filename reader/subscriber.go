package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptostream/internal/metrics"
	"cryptostream/logger"
	"cryptostream/models"

	"github.com/google/uuid"
)

// Connection is an established, fully confirmed subscription session.
type Connection struct {
	ID       string
	Exchange models.ExchangeID
	Map      *SubscriptionMap
	Subs     []MarketSub

	transport *Transport
	// pending holds frames read during the handshake that were not
	// subscription responses.
	pending [][]byte
}

// Write sends a frame on the live connection.
func (c *Connection) Write(msg WsMessage) error { return c.transport.Write(msg) }

func (c *Connection) Close() error { return c.transport.Close() }

// Subscriber performs the subscription handshake for one connection.
type Subscriber struct {
	Dialer Dialer
	log    *logger.Log
}

func NewSubscriber(localIP string) *Subscriber {
	return &Subscriber{Dialer: Dialer{LocalIP: localIP}, log: logger.GetLogger()}
}

// Subscribe dials the connector, sends every request and waits for the
// expected number of responses. Either every subscription is confirmed and a
// Connection is returned, or the connection is closed and a *SubscribeError
// is returned.
func (s *Subscriber) Subscribe(ctx context.Context, connector Connector, subs []MarketSub) (*Connection, error) {
	exchange := connector.ID()
	connID := uuid.NewString()
	log := s.logger().WithComponent("subscriber").WithFields(logger.Fields{
		"exchange":      string(exchange),
		"connection_id": connID,
		"subscriptions": len(subs),
	})

	conn, err := s.subscribe(ctx, connector, subs, connID)
	if err != nil {
		metrics.IncHandshake(string(exchange), "failure")
		var subErr *SubscribeError
		if errors.As(err, &subErr) && subErr.Reason != "" {
			metrics.ReportLimitFromMessage(s.logger(), string(exchange), "subscribe", subErr.Reason)
		}
		log.WithError(err).Warn("subscription handshake failed")
		return nil, err
	}
	metrics.IncHandshake(string(exchange), "success")
	log.WithField("routes", conn.Map.Len()).Info("subscriptions confirmed")
	return conn, nil
}

func (s *Subscriber) subscribe(ctx context.Context, connector Connector, subs []MarketSub, connID string) (*Connection, error) {
	exchange := connector.ID()
	fail := func(reason string, err error) error {
		return &SubscribeError{Exchange: exchange, Reason: reason, Err: err}
	}

	if len(subs) == 0 {
		return nil, fail("no subscriptions", nil)
	}
	routes := make(map[models.SubscriptionID]models.Instrument, len(subs))
	exchangeSubs := make([]ExchangeSub, 0, len(subs))
	for _, ms := range subs {
		id := ms.Sub.ID()
		if prev, ok := routes[id]; ok {
			if !prev.Equal(ms.Instrument) {
				return nil, fail(fmt.Sprintf("subscription %q maps to %s and %s", id, prev, ms.Instrument), nil)
			}
			continue
		}
		routes[id] = ms.Instrument
		exchangeSubs = append(exchangeSubs, ms.Sub)
	}

	u, err := connector.URL()
	if err != nil {
		return nil, fail("", err)
	}
	requests, err := connector.Requests(exchangeSubs)
	if err != nil {
		return nil, fail("build requests", err)
	}
	expected := connector.ExpectedResponses(exchangeSubs)

	hsCtx, cancel := context.WithTimeout(ctx, connector.HandshakeTimeout())
	defer cancel()

	transport, err := s.Dialer.Dial(hsCtx, u)
	if err != nil {
		return nil, fail("", err)
	}
	// a cancelled or expired handshake unblocks the pending read
	stop := context.AfterFunc(hsCtx, func() { transport.Close() })
	defer stop()

	success := false
	defer func() {
		if !success {
			transport.Close()
		}
	}()

	for _, req := range requests {
		if err := transport.Write(req); err != nil {
			return nil, fail("send request", err)
		}
	}

	var pending [][]byte
	var listed map[models.SubscriptionID]struct{}
	confirmed := 0
	for confirmed < expected {
		payload, err := transport.Read()
		if err != nil {
			if hsCtx.Err() != nil {
				if ctx.Err() != nil {
					return nil, fail("", ctx.Err())
				}
				return nil, fail(fmt.Sprintf("%d of %d responses received", confirmed, expected), ErrHandshakeTimeout)
			}
			return nil, fail("read response", err)
		}
		resp, err := connector.ParseResponse(payload)
		if errors.Is(err, ErrNotResponse) {
			pending = append(pending, payload)
			continue
		}
		if err != nil {
			return nil, fail("parse response", err)
		}
		if err := resp.Validate(exchange); err != nil {
			return nil, err
		}
		if resp.Sub != nil && resp.Alias != "" {
			id := resp.Sub.ID()
			inst, ok := routes[id]
			if !ok {
				return nil, fail(fmt.Sprintf("confirmation for unrequested subscription %q", id), nil)
			}
			delete(routes, id)
			routes[resp.Alias] = inst
		}
		if resp.Confirmed != nil {
			if listed == nil {
				listed = make(map[models.SubscriptionID]struct{})
			}
			for _, id := range resp.Confirmed {
				listed[id] = struct{}{}
			}
		}
		confirmed++
	}
	if listed != nil {
		for _, es := range exchangeSubs {
			if _, ok := listed[es.ID()]; !ok {
				return nil, &SubscribeError{Exchange: exchange, Reason: fmt.Sprintf("subscription %q not confirmed", es.ID()), Err: ErrRejected}
			}
		}
	}

	// stop reports false once the watcher has already closed the transport
	if !stop() {
		return nil, fail("", context.Cause(hsCtx))
	}
	if err := transport.setReadDeadline(time.Time{}); err != nil {
		return nil, fail("reset deadline", err)
	}

	success = true
	return &Connection{
		ID:        connID,
		Exchange:  exchange,
		Map:       newSubscriptionMap(routes),
		Subs:      subs,
		transport: transport,
		pending:   pending,
	}, nil
}

func (s *Subscriber) logger() *logger.Log {
	if s.log == nil {
		return logger.GetLogger()
	}
	return s.log
}
