// Package discord presents approval prompts in a Discord channel and turns
// the approver's reactions into decisions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aspect-build/morpheus/internal/approval"
	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/bwmarrin/discordgo"
)

// ErrNoChannel is returned when the channel needed for an operation is not configured.
var ErrNoChannel = errors.New("discord channel not configured")

// Config configures the bot.
type Config struct {
	Token             string
	ApprovalChannelID string
	LogChannelID      string
	ApproverID        string
}

// api is the subset of *discordgo.Session the bot calls.
type api interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

// prompt is an approval message still awaiting annotation.
type prompt struct {
	correlationID string
	channelID     string
	embed         *discordgo.MessageEmbed
}

// Bot is the approval messenger and audit sink backed by Discord.
type Bot struct {
	cfg      Config
	session  *discordgo.Session
	api      api
	resolver approval.Resolver
	now      func() time.Time

	mu      sync.Mutex
	prompts map[string]prompt // message id -> prompt

	selfID    atomic.Value // string
	connected atomic.Bool
}

var (
	_ approval.Messenger = (*Bot)(nil)
	_ audit.Sink         = (*Bot)(nil)
)

// New creates a bot that reports approver decisions to resolver. Call Open
// to connect.
func New(cfg Config, resolver approval.Resolver) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord bot token is required")
	}
	logx.AddSecrets(cfg.Token)

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions

	b := newBot(cfg, dg, resolver)
	b.session = dg
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onDisconnect)
	dg.AddHandler(b.onReactionAdd)
	return b, nil
}

func newBot(cfg Config, a api, resolver approval.Resolver) *Bot {
	b := &Bot{
		cfg:      cfg,
		api:      a,
		resolver: resolver,
		now:      time.Now,
		prompts:  make(map[string]prompt),
	}
	b.selfID.Store("")
	return b
}

// Open connects the gateway websocket.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	b.connected.Store(false)
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

// Connected reports whether the gateway session is ready.
func (b *Bot) Connected() bool {
	return b.connected.Load()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		b.selfID.Store(r.User.ID)
		logx.Infof("discord bot logged in as %s", r.User.Username)
	}
	b.connected.Store(true)

	for name, id := range map[string]string{"approval": b.cfg.ApprovalChannelID, "log": b.cfg.LogChannelID} {
		if id == "" {
			continue
		}
		if _, err := s.Channel(id); err != nil {
			logx.Errorf("discord cannot access %s channel %s: %v", name, id, err)
		}
	}
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.connected.Store(false)
	logx.Warnf("discord gateway disconnected")
}

func (b *Bot) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil {
		return
	}
	isBot := r.Member != nil && r.Member.User != nil && r.Member.User.Bot
	b.handleReaction(r.UserID, r.MessageID, r.Emoji.Name, isBot)
}

// handleReaction resolves the pending approval behind messageID when the
// configured approver reacts with an approve or deny emoji. Everything else
// is ignored.
func (b *Bot) handleReaction(userID, messageID, emoji string, isBot bool) bool {
	if isBot || userID == "" || userID == b.selfID.Load().(string) {
		return false
	}
	if userID != b.cfg.ApproverID {
		logx.Debugf("discord ignoring reaction from non-approver %s", userID)
		return false
	}
	d, ok := decisionForEmoji(emoji)
	if !ok {
		return false
	}

	b.mu.Lock()
	p, ok := b.prompts[messageID]
	b.mu.Unlock()
	if !ok {
		return false
	}

	if !b.resolver.Resolve(p.correlationID, d) {
		logx.Debugf("discord late reaction for request %s ignored", p.correlationID)
		return false
	}
	logx.Infof("discord request %s %s by approver", p.correlationID, d)
	return true
}

// PresentApprovalRequest posts the prompt to the approval channel and adds the
// approve and deny reactions. The returned handle is the message id.
func (b *Bot) PresentApprovalRequest(ctx context.Context, p approval.Prompt) (string, error) {
	if b.cfg.ApprovalChannelID == "" {
		return "", fmt.Errorf("approval: %w", ErrNoChannel)
	}
	embed := requestEmbed(p, b.now())

	msg, err := b.api.ChannelMessageSendEmbed(b.cfg.ApprovalChannelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send approval request: %w", err)
	}

	b.mu.Lock()
	b.prompts[msg.ID] = prompt{correlationID: p.CorrelationID, channelID: msg.ChannelID, embed: embed}
	b.mu.Unlock()

	for _, emoji := range []string{EmojiApprove, EmojiDeny} {
		if err := b.api.MessageReactionAdd(msg.ChannelID, msg.ID, emoji, discordgo.WithContext(ctx)); err != nil {
			logx.Warnf("discord add reaction %s to %s: %v", emoji, msg.ID, err)
		}
	}
	return msg.ID, nil
}

// AnnotateResult edits the prompt to show the final decision and stops
// tracking it.
func (b *Bot) AnnotateResult(ctx context.Context, handle string, d approval.Decision) error {
	b.mu.Lock()
	p, ok := b.prompts[handle]
	delete(b.prompts, handle)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown approval message %s", handle)
	}

	channelID := p.channelID
	if channelID == "" {
		channelID = b.cfg.ApprovalChannelID
	}
	if _, err := b.api.ChannelMessageEditEmbed(channelID, handle, annotatedEmbed(p.embed, d), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit approval message: %w", err)
	}
	return nil
}

// Record posts e to the log channel. Without a log channel it does nothing.
func (b *Bot) Record(ctx context.Context, e audit.Entry) error {
	if b.cfg.LogChannelID == "" {
		return nil
	}
	if _, err := b.api.ChannelMessageSendEmbed(b.cfg.LogChannelID, logEmbed(e), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send log entry: %w", err)
	}
	return nil
}

// pendingPrompts returns how many prompts await annotation.
func (b *Bot) pendingPrompts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}
