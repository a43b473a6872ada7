package main

import (
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/hashicorp/go-hclog"
)

// Notifier raises desktop notifications. Failures are swallowed: headless
// hosts and stripped-down desktops have no notification daemon and that
// must never disturb the agent.
type Notifier struct {
	logger hclog.Logger
}

func NewNotifier(logger hclog.Logger) *Notifier {
	return &Notifier{logger: logger.Named("notify")}
}

func (n *Notifier) send(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		n.logger.Debug("notification failed", "title", title, "error", err)
	}
}

func (n *Notifier) TaskSucceeded(name string) {
	n.send("PulseForge — task complete", fmt.Sprintf("%s finished successfully.", name))
}

func (n *Notifier) TaskFailed(name string, exitCode int, stderrPreview string) {
	detail := stderrPreview
	if detail == "" {
		detail = fmt.Sprintf("exit code %d", exitCode)
	}
	n.send("PulseForge — task failed", fmt.Sprintf("%s: %s", name, detail))
}

func (n *Notifier) Reconnected() {
	n.send("PulseForge", "Connection to management server restored.")
}

func (n *Notifier) OfflineMode() {
	n.send("PulseForge — warning", "Cannot reach management server. Running in offline mode; scheduled tasks continue locally.")
}
