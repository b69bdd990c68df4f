package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

const maxSlackBlockText = 2900

var slackTypeEmoji = map[Type]string{
	TypeQuestion: ":question:",
	TypeProgress: ":arrows_counterclockwise:",
	TypeError:    ":x:",
	TypeComplete: ":white_check_mark:",
}

// SlackAdapter posts Block Kit messages to a Slack incoming webhook.
type SlackAdapter struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackAdapter creates a Slack adapter targeting webhookURL.
func NewSlackAdapter(webhookURL string) *SlackAdapter {
	return &SlackAdapter{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "notify.slack"),
	}
}

func (a *SlackAdapter) Name() string { return "slack" }

func (a *SlackAdapter) Init(_ context.Context) error {
	u, err := url.Parse(a.webhookURL)
	if err != nil {
		return fmt.Errorf("invalid Slack webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid Slack webhook URL scheme %q", u.Scheme)
	}
	return nil
}

func (a *SlackAdapter) Notify(ctx context.Context, n Notification) error {
	msg := &goslack.WebhookMessage{
		Text:   n.Title,
		Blocks: &goslack.Blocks{BlockSet: BuildSlackBlocks(n)},
	}
	if err := goslack.PostWebhookCustomHTTPContext(ctx, a.webhookURL, a.httpClient, msg); err != nil {
		return fmt.Errorf("slack webhook failed: %w", err)
	}
	return nil
}

func (a *SlackAdapter) Close(_ context.Context) error { return nil }

// BuildSlackBlocks renders a notification as Block Kit blocks.
func BuildSlackBlocks(n Notification) []goslack.Block {
	emoji := slackTypeEmoji[n.Type]
	if emoji == "" {
		emoji = ":bell:"
	}

	header := fmt.Sprintf("%s *%s*", emoji, n.Title)
	if n.Phase > 0 {
		header += fmt.Sprintf("  _(phase %d", n.Phase)
		if n.Step != "" {
			header += fmt.Sprintf(" / %s", n.Step)
		}
		header += ")_"
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	if n.Body != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(n.Body), false, false),
			nil, nil,
		))
	}

	if len(n.Options) > 0 {
		var sb strings.Builder
		sb.WriteString("*Options:*")
		for _, opt := range n.Options {
			sb.WriteString(fmt.Sprintf("\n• %s", opt))
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(sb.String()), false, false),
			nil, nil,
		))
	}

	if n.ErrorMessage != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				fmt.Sprintf("*Error:*\n%s", truncateForSlack(n.ErrorMessage)), false, false),
			nil, nil,
		))
	}

	if n.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(n.Summary), false, false),
			nil, nil,
		))
	}

	if n.RespondURL != "" {
		label := "Open Dashboard"
		if n.Type == TypeQuestion {
			label = "Answer"
		}
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, label, false, false))
		btn.URL = n.RespondURL
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}

	return blocks
}

func truncateForSlack(text string) string {
	runes := []rune(text)
	if len(runes) <= maxSlackBlockText {
		return text
	}
	return string(runes[:maxSlackBlockText]) + "\n\n_... (truncated)_"
}
