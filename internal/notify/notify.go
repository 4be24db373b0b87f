// Package notify abstracts the desktop notification sink used for quota and
// context threshold alerts.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Urgency selects the alert treatment in the concrete sink.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Message is one notification to display.
type Message struct {
	Title   string
	Body    string
	Urgency Urgency
}

// Notifier delivers messages to the user. Implementations must be safe for
// repeated calls; delivery failures are the caller's to ignore.
type Notifier interface {
	Notify(msg Message) error
}

// Desktop sends native desktop notifications: notify-send on Linux,
// osascript on macOS. Other platforms silently drop messages.
type Desktop struct{}

// Notify dispatches the message to the platform notifier.
func (Desktop) Notify(msg Message) error {
	switch runtime.GOOS {
	case "linux":
		urgency := string(msg.Urgency)
		if urgency == "" {
			urgency = string(UrgencyNormal)
		}
		cmd := exec.Command("notify-send", "--urgency", urgency, msg.Title, msg.Body)
		return cmd.Run()
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", msg.Body, msg.Title)
		if msg.Urgency == UrgencyCritical {
			script += ` sound name "Basso"`
		}
		cmd := exec.Command("osascript", "-e", script)
		return cmd.Run()
	default:
		return nil
	}
}

// Discard drops all messages. Used when notifications are disabled.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Message) error { return nil }
