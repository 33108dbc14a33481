// Package notifications delivers batch run summaries to operators.
package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Harvey-AU/legal-archive-scraper/internal/batch"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// maxFailedURLs bounds the failure list included in a message.
const maxFailedURLs = 10

// BatchSummary describes one finished batch run.
type BatchSummary struct {
	ID         string
	Stats      batch.Stats
	Duration   time.Duration
	FailedURLs []string
	FinishedAt time.Time
}

// NewBatchSummary fills in an id and finish time.
func NewBatchSummary(stats batch.Stats, duration time.Duration, failed []string) BatchSummary {
	return BatchSummary{
		ID:         uuid.NewString(),
		Stats:      stats,
		Duration:   duration,
		FailedURLs: failed,
		FinishedAt: time.Now().UTC(),
	}
}

// DeliveryChannel sends a summary somewhere.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, s BatchSummary) error
}

// Service fans a summary out to every channel.
type Service struct {
	channels []DeliveryChannel
}

func NewService() *Service {
	return &Service{}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// Enabled reports whether any channel is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.channels) > 0
}

// NotifyBatch delivers to all channels. Delivery failures are logged, not returned.
func (s *Service) NotifyBatch(ctx context.Context, summary BatchSummary) {
	if s == nil {
		return
	}
	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, summary); err != nil {
			log.Warn().
				Err(err).
				Str("channel", ch.Name()).
				Str("batch_id", summary.ID).
				Msg("Failed to deliver batch summary")
			continue
		}
		log.Info().
			Str("channel", ch.Name()).
			Str("batch_id", summary.ID).
			Msg("Batch summary delivered")
	}
}

// SlackChannel posts summaries to an incoming webhook.
type SlackChannel struct {
	webhookURL string
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL}
}

func (c *SlackChannel) Name() string {
	return "slack"
}

// Deliver sends a summary to Slack
func (c *SlackChannel) Deliver(ctx context.Context, s BatchSummary) error {
	msg := &slack.WebhookMessage{
		Text:   fallbackText(s),
		Blocks: &slack.Blocks{BlockSet: buildMessageBlocks(s)},
	}
	if err := slack.PostWebhookContext(ctx, c.webhookURL, msg); err != nil {
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}
	return nil
}

func fallbackText(s BatchSummary) string {
	return fmt.Sprintf("Scrape batch finished: %d/%d succeeded", s.Stats.Succeeded, s.Stats.Total)
}

func buildMessageBlocks(s BatchSummary) []slack.Block {
	emoji := ":white_check_mark:"
	switch {
	case s.Stats.Total > 0 && s.Stats.Succeeded == 0:
		emoji = ":x:"
	case s.Stats.Failed > 0:
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *Scrape batch finished*\n%d of %d succeeded (%d skipped) in %s",
					emoji, s.Stats.Succeeded, s.Stats.Total, s.Stats.Skipped, s.Duration.Round(time.Second)),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if len(s.Stats.ByStrategy) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "*Strategies:* "+formatCounts(s.Stats.ByStrategy), false, false),
			nil,
			nil,
		))
	}
	if len(s.Stats.ByErrorKind) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "*Failures:* "+formatCounts(s.Stats.ByErrorKind), false, false),
			nil,
			nil,
		))
	}

	if len(s.FailedURLs) > 0 {
		urls := s.FailedURLs
		more := ""
		if len(urls) > maxFailedURLs {
			more = fmt.Sprintf("\n_and %d more_", len(urls)-maxFailedURLs)
			urls = urls[:maxFailedURLs]
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "• "+strings.Join(urls, "\n• ")+more, false, false),
			nil,
			nil,
		))
	}

	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", "batch "+s.ID, false, false),
	))

	return blocks
}

// formatCounts renders "a: 2, b: 1", highest count first.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}
