package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
	"github.com/hive-corporation/threatfeed/internal/core/ports"
)

const defaultSlackAPI = "https://slack.com/api/chat.postMessage"

// maxListedThreats limits the records shown in one message
const maxListedThreats = 5

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string) *SlackNotifier {
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      defaultSlackAPI,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIURL points the notifier at another chat.postMessage endpoint.
func (s *SlackNotifier) WithAPIURL(url string) *SlackNotifier {
	s.apiURL = url
	return s
}

// NotifyCriticalThreats sends the newly seen critical threats of a snapshot
func (s *SlackNotifier) NotifyCriticalThreats(snapshot ports.SnapshotInfo, threats []domain.ThreatRecord) error {
	if len(threats) == 0 {
		return nil
	}

	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildCriticalBlocks(snapshot, threats),
		Text:    fmt.Sprintf("🔴 %d new critical email threats", len(threats)),
	}

	return s.sendMessage(payload)
}

// NotifyIngestionFailure reports a feed that could not be ingested
func (s *SlackNotifier) NotifyIngestionFailure(failure ports.IngestionFailure) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildFailureBlocks(failure),
		Text:    fmt.Sprintf("⚠️ Feed ingestion from %s failed (%s)", failure.Source, failure.Kind),
	}

	return s.sendMessage(payload)
}

// NotifyIngestionRecovered reports a feed that ingests again after failing
func (s *SlackNotifier) NotifyIngestionRecovered(snapshot ports.SnapshotInfo, failedAttempts int) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildRecoveryBlocks(snapshot, failedAttempts),
		Text:    fmt.Sprintf("✅ Feed ingestion from %s recovered", snapshot.Source),
	}

	return s.sendMessage(payload)
}

func (s *SlackNotifier) buildCriticalBlocks(snapshot ports.SnapshotInfo, threats []domain.ThreatRecord) []SlackBlock {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: "🔴 Critical Email Threats Detected",
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*New critical*\n%d", len(threats))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Threats in feed*\n%d", snapshot.Summary.ThreatsDetected)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Emails scanned*\n%d", snapshot.Summary.EmailsScanned)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Quarantined*\n%d", snapshot.Summary.QuarantinedItems)},
			},
		},
		{Type: "divider"},
	}

	for i, t := range threats {
		if i >= maxListedThreats {
			blocks = append(blocks, SlackBlock{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("_...and %d more critical threats_", len(threats)-maxListedThreats),
				},
			})
			break
		}

		text := fmt.Sprintf("*%s* `%s` score *%d*\n• Observed: %s",
			t.Type, t.ID, t.RiskScore, t.Timestamp.UTC().Format(time.RFC3339))
		if t.Details.Subject != "" {
			text += fmt.Sprintf("\n• Subject: %s", t.Details.Subject)
		}
		if t.Details.Sender != "" {
			text += fmt.Sprintf("\n• Sender: `%s`", t.Details.Sender)
		}
		if t.Status != "" {
			text += fmt.Sprintf("\n• Status: %s", t.Status)
		}

		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: text},
		})
	}

	footer := fmt.Sprintf("Snapshot `%s` from %s", snapshot.ID, snapshot.Source)
	if n := len(snapshot.Summary.Discrepancies); n > 0 {
		footer += fmt.Sprintf(" | ⚠️ %d summary discrepancies", n)
	}
	blocks = append(blocks, SlackBlock{
		Type:     "context",
		Elements: []SlackText{{Type: "mrkdwn", Text: footer}},
	})

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("🔔 %s", s.mentionTeam),
			},
		})
	}

	return blocks
}

func (s *SlackNotifier) buildFailureBlocks(failure ports.IngestionFailure) []SlackBlock {
	serving := "Nothing is being served until the feed recovers."
	if failure.ServingStale {
		serving = "The previous snapshot is still being served."
	}

	return []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: "⚠️ Threat Feed Ingestion Failed",
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Source*\n%s", failure.Source)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Kind*\n%s", strings.ToUpper(failure.Kind))},
			},
		},
		{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("```%s```\n%s", failure.Message, serving),
			},
		},
	}
}

func (s *SlackNotifier) buildRecoveryBlocks(snapshot ports.SnapshotInfo, failedAttempts int) []SlackBlock {
	return []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: "✅ Threat Feed Ingestion Recovered",
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Source*\n%s", snapshot.Source)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Failed attempts*\n%d", failedAttempts)},
			},
		},
		{
			Type: "context",
			Elements: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("Now serving snapshot `%s`", snapshot.ID)},
			},
		},
	}
}

func (s *SlackNotifier) sendMessage(msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequest("POST", s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	// chat.postMessage answers 200 with ok=false on application errors
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK && result.Error != "" {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
