package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/store"
)

// MessageSender is the subset of *discordgo.Session used for delivery.
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications to one auction channel. Bidder ids are
// rendered as user mentions.
type Discord struct {
	sender    MessageSender
	channelID string
}

// NewDiscord returns a Discord notifier posting to channelID.
func NewDiscord(sender MessageSender, channelID string) *Discord {
	return &Discord{sender: sender, channelID: channelID}
}

// NewDiscordSession creates a REST-only bot session. Sending messages does
// not need the gateway connection, so the session is never opened.
func NewDiscordSession(cfg config.DiscordConfig) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return s, nil
}

func (d *Discord) NotifyOutbid(ctx context.Context, item store.Item, newBidderID, previousBidderID string, amount decimal.Decimal) error {
	return d.send(ctx, fmt.Sprintf("<@%s> you were outbid on **%s**: <@%s> now leads with **%s**",
		previousBidderID, itemLabel(item), newBidderID, amount.StringFixed(2)))
}

func (d *Discord) NotifyAuctionWon(ctx context.Context, item store.Item, winnerID string, amount decimal.Decimal) error {
	return d.send(ctx, fmt.Sprintf("<@%s> won **%s** for **%s**",
		winnerID, itemLabel(item), amount.StringFixed(2)))
}

func (d *Discord) NotifyAuctionEnded(ctx context.Context, item store.Item, sellerID string) error {
	if item.SoldTo == nil || item.SoldPrice == nil {
		return d.send(ctx, fmt.Sprintf("<@%s> your auction **%s** ended without bids", sellerID, itemLabel(item)))
	}
	return d.send(ctx, fmt.Sprintf("<@%s> your auction **%s** ended: sold to <@%s> for **%s**",
		sellerID, itemLabel(item), *item.SoldTo, item.SoldPrice.StringFixed(2)))
}

func (d *Discord) send(ctx context.Context, content string) error {
	if _, err := d.sender.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending discord message: %w", err)
	}
	return nil
}

func itemLabel(item store.Item) string {
	if item.Title != "" {
		return item.Title
	}
	return item.ID
}
