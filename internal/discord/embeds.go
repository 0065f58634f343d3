package discord

import (
	"fmt"
	"time"

	"github.com/aspect-build/morpheus/internal/approval"
	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/bwmarrin/discordgo"
)

const (
	EmojiApprove = "✅"
	EmojiDeny    = "❌"

	colorOrange = 0xE67E22
	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C

	requestTitle    = "🔐 Credential Access Request"
	maxReasonLength = 500
)

// decisionForEmoji maps a reaction to an approver decision.
func decisionForEmoji(name string) (approval.Decision, bool) {
	switch name {
	case EmojiApprove:
		return approval.Approved, true
	case EmojiDeny:
		return approval.Denied, true
	default:
		return 0, false
	}
}

func requestEmbed(p approval.Prompt, at time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:     requestTitle,
		Color:     colorOrange,
		Timestamp: at.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Service", Value: code(p.Service), Inline: true},
			{Name: "Scope", Value: code(p.Scope), Inline: true},
			{Name: "Request ID", Value: code(p.CorrelationID), Inline: true},
			{Name: "Reason", Value: truncate(p.Reason, maxReasonLength), Inline: false},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "React with ✅ to approve or ❌ to deny"},
	}
}

// annotatedEmbed returns a copy of base marked with the final decision.
func annotatedEmbed(base *discordgo.MessageEmbed, d approval.Decision) *discordgo.MessageEmbed {
	e := *base
	e.Fields = append([]*discordgo.MessageEmbedField(nil), base.Fields...)
	switch d {
	case approval.Approved:
		e.Color = colorGreen
		e.Title = requestTitle + " - APPROVED ✅"
	case approval.Denied:
		e.Color = colorRed
		e.Title = requestTitle + " - DENIED ❌"
	default:
		e.Color = colorRed
		e.Title = requestTitle + " - TIMEOUT ⏰"
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name: "Result", Value: "Auto-denied due to timeout",
		})
	}
	return &e
}

func logEmbed(e audit.Entry) *discordgo.MessageEmbed {
	status, color := "DENIED", colorRed
	if e.Approved {
		status, color = "APPROVED", colorGreen
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Service", Value: code(e.Service), Inline: true},
		{Name: "Scope", Value: code(e.Scope), Inline: true},
		{Name: "Status", Value: status, Inline: true},
		{Name: "Request ID", Value: code(e.RequestID), Inline: true},
	}
	if e.Duration > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Duration", Value: fmt.Sprintf("%.1fs", e.Duration.Seconds()), Inline: true,
		})
	}
	if e.AutoApproved {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Auto-approved", Value: "yes", Inline: true,
		})
	}
	fields = append(fields, &discordgo.MessageEmbedField{
		Name: "Reason", Value: truncate(e.Reason, maxReasonLength),
	})

	return &discordgo.MessageEmbed{
		Title:     "📊 Gatekeeper Log - " + status,
		Color:     color,
		Timestamp: at.UTC().Format(time.RFC3339),
		Fields:    fields,
	}
}

func code(s string) string { return "`" + s + "`" }

// truncate caps s at max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
