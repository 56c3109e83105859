package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/kidtube/kidtube/pkg/models"
)

const embedColor = 0x5F6DFF

// DiscordPayload is the body of a Discord webhook execution
type DiscordPayload struct {
	Content    string             `json:"content,omitempty"`
	Embeds     []DiscordEmbed     `json:"embeds"`
	Components []DiscordComponent `json:"components,omitempty"`
}

// Component types and button styles
const (
	ComponentActionRow = 1
	ComponentButton    = 2

	ButtonSuccess = 3
	ButtonDanger  = 4
)

// DiscordComponent is an action row or a button. Button clicks come back
// through the interactions endpoint carrying CustomID.
type DiscordComponent struct {
	Type       int                `json:"type"`
	Style      int                `json:"style,omitempty"`
	Label      string             `json:"label,omitempty"`
	CustomID   string             `json:"custom_id,omitempty"`
	Components []DiscordComponent `json:"components,omitempty"`
}

func decisionButtons(requestID int64) []DiscordComponent {
	return []DiscordComponent{{
		Type: ComponentActionRow,
		Components: []DiscordComponent{
			{Type: ComponentButton, Style: ButtonSuccess, Label: "Approve", CustomID: RequestCustomID(requestID, VerbApprove)},
			{Type: ComponentButton, Style: ButtonDanger, Label: "Deny", CustomID: RequestCustomID(requestID, VerbDeny)},
		},
	}}
}

// DiscordEmbed is one rich embed
type DiscordEmbed struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Color       int               `json:"color"`
	Fields      []DiscordField    `json:"fields,omitempty"`
	Thumbnail   *DiscordThumbnail `json:"thumbnail,omitempty"`
	Footer      *DiscordFooter    `json:"footer,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type DiscordThumbnail struct {
	URL string `json:"url"`
}

type DiscordFooter struct {
	Text string `json:"text"`
}

func orUnknown(s, what string) string {
	if s == "" {
		return "Unknown " + what
	}
	return s
}

// RequestEmbed renders a request event for parents
func RequestEmbed(event *models.RequestEvent) DiscordPayload {
	req := event.Request
	kid := orUnknown(event.KidName, "kid")

	title := fmt.Sprintf("New Request from %s", kid)
	switch event.Event {
	case models.EventRequestApproved:
		title = fmt.Sprintf("Request approved for %s", kid)
	case models.EventRequestDenied:
		title = fmt.Sprintf("Request denied for %s", kid)
	}

	targetLabel := "Video"
	switch req.Type {
	case models.RequestTypeChannel:
		targetLabel = "Channel"
	case models.RequestTypeBonus:
		targetLabel = "Bonus time"
	}

	embed := DiscordEmbed{
		Title:       title,
		Description: fmt.Sprintf("Type: **%s**\nRequest: #%d", req.Type, req.ID),
		Color:       embedColor,
		Fields: []DiscordField{
			{Name: targetLabel, Value: orUnknown(req.TargetYoutubeID, strings.ToLower(targetLabel)), Inline: false},
			{Name: "Requested by", Value: kid, Inline: true},
			{Name: "Status", Value: req.Status, Inline: true},
		},
		Timestamp: event.OccurredAt.UTC().Format(time.RFC3339),
	}
	if req.Type == models.RequestTypeVideo && req.TargetYoutubeID != "" {
		embed.Thumbnail = &DiscordThumbnail{URL: fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", req.TargetYoutubeID)}
	}

	payload := DiscordPayload{Embeds: []DiscordEmbed{embed}}
	if req.Status == models.RequestStatusPending {
		payload.Components = decisionButtons(req.ID)
	}
	return payload
}

func minutes(seconds int64) string {
	return fmt.Sprintf("%.1f minutes", float64(seconds)/60)
}

// DailyReportEmbed renders one embed per kid
func DailyReportEmbed(report *models.DailyReport, archiveURL string) DiscordPayload {
	footer := &DiscordFooter{Text: fmt.Sprintf("%s · Powered by KidTube", report.Day)}

	var embeds []DiscordEmbed
	for _, kid := range report.Kids {
		var lines []string
		for _, c := range kid.Categories {
			if c.TodaySeconds > 0 {
				lines = append(lines, fmt.Sprintf("• %s (%s)", c.CategoryName, minutes(c.TodaySeconds)))
			}
		}
		byCategory := strings.Join(lines, "\n")
		if byCategory == "" {
			byCategory = "No videos watched today"
		}

		remaining := "Unlimited"
		if kid.RemainingSeconds != nil {
			remaining = minutes(*kid.RemainingSeconds)
		}

		embeds = append(embeds, DiscordEmbed{
			Title: fmt.Sprintf("Daily Stats · %s", kid.KidName),
			Color: embedColor,
			Fields: []DiscordField{
				{Name: "Total watch time", Value: minutes(kid.WatchedSeconds), Inline: true},
				{Name: "Remaining", Value: remaining, Inline: true},
				{Name: "Pending requests", Value: fmt.Sprintf("%d", kid.PendingRequests), Inline: true},
				{Name: "By category", Value: byCategory, Inline: false},
			},
			Footer: footer,
		})
	}
	if len(embeds) == 0 {
		embeds = []DiscordEmbed{{Title: "Daily Stats", Description: "No kids configured.", Color: embedColor, Footer: footer}}
	}

	content := "KidTube daily stats report"
	if archiveURL != "" {
		content += "\n" + archiveURL
	}
	return DiscordPayload{Content: content, Embeds: embeds}
}
