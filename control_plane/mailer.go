package main

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
)

// Notifier delivers operator notifications over SMTP. Delivery runs in the
// background and failures are logged; no caller ever blocks on the mail
// server. When smtp_host or alert_recipient is unset, notifications are
// logged instead of mailed.
type Notifier struct {
	store  store.Store
	logger hclog.Logger

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewNotifier(st store.Store, logger hclog.Logger) *Notifier {
	return &Notifier{
		store:  st,
		logger: logger.Named("notifier"),
		send:   smtp.SendMail,
	}
}

// TaskFailed reports a non-zero exit from a device.
func (n *Notifier) TaskFailed(ctx context.Context, res *store.TaskResult, taskName, hostname string) {
	subject := fmt.Sprintf("[PulseForge] task %q failed on %s", taskName, hostname)
	body := fmt.Sprintf(
		"Task %q (id %s) failed on %s with exit code %d.\r\n\r\nstderr:\r\n%s\r\n",
		taskName, res.TaskID, hostname, res.ExitCode, res.Stderr)
	n.deliver(ctx, "task_failed", subject, body)
}

// DeviceOffline reports a device flipped offline by the silence detector.
func (n *Notifier) DeviceOffline(ctx context.Context, d *store.Device) {
	subject := fmt.Sprintf("[PulseForge] device %s went offline", d.Hostname)
	body := fmt.Sprintf(
		"Device %s (id %s, ip %s) has not checked in and was marked offline.\r\nLast seen: %s\r\n",
		d.Hostname, d.DeviceID, d.IPAddress, d.LastSeen.Format("2006-01-02 15:04:05 MST"))
	n.deliver(ctx, "device_offline", subject, body)
}

// AlertTriggered reports a threshold rule firing.
func (n *Notifier) AlertTriggered(ctx context.Context, rule *store.AlertRule, d *store.Device, observed float64) {
	subject := fmt.Sprintf("[PulseForge] alert %q on %s", rule.Name, d.Hostname)
	body := fmt.Sprintf(
		"Alert rule %q triggered on %s.\r\nCondition: %s %s %.1f\r\nObserved: %.1f\r\n",
		rule.Name, d.Hostname, rule.Metric, rule.Operator, rule.Threshold, observed)
	n.deliver(ctx, "alert", subject, body)
}

func (n *Notifier) deliver(ctx context.Context, kind, subject, body string) {
	observability.NotificationsSent.WithLabelValues(kind).Inc()

	host := store.SettingOr(ctx, n.store, "smtp_host", "")
	recipient := store.SettingOr(ctx, n.store, "alert_recipient", "")
	if host == "" || recipient == "" {
		n.logger.Info("notification (email disabled)", "kind", kind, "subject", subject)
		return
	}

	port := store.SettingOr(ctx, n.store, "smtp_port", "587")
	user := store.SettingOr(ctx, n.store, "smtp_username", "")
	pass := store.SettingOr(ctx, n.store, "smtp_password", "")
	from := store.SettingOr(ctx, n.store, "smtp_from", "pulseforge@localhost")

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}

	go func() {
		if err := n.send(host+":"+port, auth, from, []string{recipient}, []byte(msg.String())); err != nil {
			n.logger.Error("email delivery failed", "kind", kind, "subject", subject, "error", err)
		} else {
			n.logger.Info("email sent", "kind", kind, "to", recipient)
		}
	}()
}
