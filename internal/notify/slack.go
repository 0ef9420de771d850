package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/johndauphine/wsl-backup/internal/config"
)

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	FooterIcon string       `json:"footer_icon,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// BackupCompleted sends notification when a backup finishes
func (n *Notifier) BackupCompleted(distro, backupType, backupID string, sizeBytes int64, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Backup Completed",
				Fields: []SlackField{
					{Title: "Distribution", Value: distro, Short: true},
					{Title: "Type", Value: backupType, Short: true},
					{Title: "Backup ID", Value: backupID, Short: true},
					{Title: "Size", Value: humanize.Bytes(uint64(sizeBytes)), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
				},
				Footer:    "wsl-backup",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// BackupFailed sends notification when a backup fails
func (n *Notifier) BackupFailed(distro string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Backup Failed",
				Fields: []SlackField{
					{Title: "Distribution", Value: distro, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: truncateError(err), Short: false},
				},
				Footer:    "wsl-backup",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RestoreCompleted sends notification when a restore finishes
func (n *Notifier) RestoreCompleted(target, backupID string, stepsApplied int, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Restore Completed",
				Fields: []SlackField{
					{Title: "Target", Value: target, Short: true},
					{Title: "Backup ID", Value: backupID, Short: true},
					{Title: "Steps Applied", Value: fmt.Sprintf("%d", stepsApplied), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
				},
				Footer:    "wsl-backup",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RestoreFailed sends notification when a restore fails
func (n *Notifier) RestoreFailed(target string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: "#dc3545", // red
				Title: "Restore Failed",
				Fields: []SlackField{
					{Title: "Target", Value: target, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: truncateError(err), Short: false},
				},
				Footer:    "wsl-backup",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// DeploymentFinished sends a summary notification after a batch deployment.
// Yellow when some targets failed, green when all succeeded.
func (n *Notifier) DeploymentFinished(pkgPath string, total, succeeded, failed int, duration time.Duration, failures []string) error {
	if !n.IsEnabled() {
		return nil
	}

	color := "#36a64f"
	icon := ":white_check_mark:"
	title := "Deployment Completed"
	if failed > 0 {
		color = "#ffc107"
		icon = ":warning:"
		title = "Deployment Completed with Errors"
	}

	fields := []SlackField{
		{Title: "Package", Value: pkgPath, Short: false},
		{Title: "Targets", Value: fmt.Sprintf("%d", total), Short: true},
		{Title: "Succeeded", Value: fmt.Sprintf("%d", succeeded), Short: true},
		{Title: "Failed", Value: fmt.Sprintf("%d", failed), Short: true},
		{Title: "Duration", Value: formatDuration(duration), Short: true},
	}
	if summary := failureSummary(failures); summary != "" {
		fields = append(fields, SlackField{Title: "Failed Targets", Value: summary, Short: false})
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: icon,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     title,
				Fields:    fields,
				Footer:    "wsl-backup",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func failureSummary(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	if len(failures) <= 5 {
		summary := failures[0]
		for i := 1; i < len(failures); i++ {
			summary += ", " + failures[i]
		}
		return summary
	}
	return fmt.Sprintf("%s, %s, %s... and %d more",
		failures[0], failures[1], failures[2], len(failures)-3)
}

func truncateError(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "wsl-backup"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
