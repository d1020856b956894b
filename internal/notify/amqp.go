package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/store"
)

// Routing keys on the auction exchange.
const (
	KeyOutbid = "bid.outbid"
	KeyWon    = "auction.won"
	KeyEnded  = "auction.ended"
)

// Publisher is the subset of *amqp.Channel used for delivery.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message is the JSON body published for every notification.
type Message struct {
	Type             string           `json:"type"`
	ItemID           string           `json:"item_id"`
	ItemTitle        string           `json:"item_title,omitempty"`
	RecipientID      string           `json:"recipient_id"`
	BidderID         string           `json:"bidder_id,omitempty"`
	PreviousBidderID string           `json:"previous_bidder_id,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	OccurredAt       time.Time        `json:"occurred_at"`
}

// AMQP publishes notifications to a RabbitMQ topic exchange.
type AMQP struct {
	pub      Publisher
	exchange string
	clock    clock.Clock
}

// NewAMQP returns an AMQP notifier publishing through pub.
func NewAMQP(pub Publisher, exchange string, clk clock.Clock) *AMQP {
	return &AMQP{pub: pub, exchange: exchange, clock: clk}
}

// DialAMQP connects to the broker, declares the topic exchange and returns a
// notifier together with a closer for the channel and connection.
func DialAMQP(cfg config.AMQPConfig, clk clock.Clock) (*AMQP, io.Closer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declaring exchange %s: %w", cfg.Exchange, err)
	}
	return NewAMQP(ch, cfg.Exchange, clk), amqpCloser{ch: ch, conn: conn}, nil
}

type amqpCloser struct {
	ch   *amqp.Channel
	conn *amqp.Connection
}

func (c amqpCloser) Close() error {
	return errors.Join(c.ch.Close(), c.conn.Close())
}

func (a *AMQP) NotifyOutbid(ctx context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) error {
	return a.publish(ctx, KeyOutbid, Message{
		ItemID:           item.ID,
		ItemTitle:        item.Title,
		RecipientID:      previousBidderID,
		BidderID:         newBidderID,
		PreviousBidderID: previousBidderID,
		Amount:           &amount,
	})
}

func (a *AMQP) NotifyAuctionWon(ctx context.Context, item store.Item, winnerID string, amount decimal.Decimal) error {
	return a.publish(ctx, KeyWon, Message{
		ItemID:      item.ID,
		ItemTitle:   item.Title,
		RecipientID: winnerID,
		BidderID:    winnerID,
		Amount:      &amount,
	})
}

func (a *AMQP) NotifyAuctionEnded(ctx context.Context, item store.Item, sellerID string) error {
	msg := Message{
		ItemID:      item.ID,
		ItemTitle:   item.Title,
		RecipientID: sellerID,
		Amount:      item.SoldPrice,
	}
	if item.SoldTo != nil {
		msg.BidderID = *item.SoldTo
	}
	return a.publish(ctx, KeyEnded, msg)
}

func (a *AMQP) publish(ctx context.Context, key string, msg Message) error {
	msg.Type = key
	msg.OccurredAt = a.clock.Now().UTC()
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", key, err)
	}
	err = a.pub.PublishWithContext(ctx, a.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s for item %s: %w", key, msg.ItemID, err)
	}
	return nil
}
