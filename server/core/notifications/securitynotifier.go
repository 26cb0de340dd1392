package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
)

// SecurityNotifier reports key lifecycle events an operator should know about
type SecurityNotifier interface {
	// NotifyMasterKeyRotated notifies that the master key was replaced.
	NotifyMasterKeyRotated(account string) error
	// NotifyCircleKeyRotated notifies that a circle moved to a new key generation.
	NotifyCircleKeyRotated(circleID string, circleName string, generation int) error
}

type nopSecurityNotifier struct{}

var NopSecurityNotifier SecurityNotifier = &nopSecurityNotifier{}

// NotifyMasterKeyRotated does nothing and returns nil.
func (n *nopSecurityNotifier) NotifyMasterKeyRotated(account string) error {
	return nil
}

// NotifyCircleKeyRotated does nothing and returns nil.
func (n *nopSecurityNotifier) NotifyCircleKeyRotated(circleID string, circleName string, generation int) error {
	return nil
}

type SecurityNotificationSettings struct {
	Recipient   string
	MinInterval time.Duration // per circle; master key rotations are always reported
}

type emailSecurityNotifier struct {
	settings         SecurityNotificationSettings
	sender           EmailSender
	logger           logging.Logger
	lastNotification map[string]time.Time
	mutex            sync.Mutex
}

func NewEmailSecurityNotifier(settings SecurityNotificationSettings, sender EmailSender, logger logging.Logger) SecurityNotifier {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &emailSecurityNotifier{
		settings:         settings,
		sender:           sender,
		logger:           logger,
		lastNotification: make(map[string]time.Time),
	}
}

func (n *emailSecurityNotifier) NotifyMasterKeyRotated(account string) error {
	subject := "Trust circles: master key rotated"
	body := fmt.Sprintf("The master key was rotated by account '%s' at %s.\n\nThe previous bootstrap secret no longer unlocks the system. Make sure the new secret is stored safely.",
		account,
		time.Now().UTC().Format(time.RFC3339))

	n.logger.Info("Sending master key rotation notification.", "account", account, "recipient", n.settings.Recipient)
	if err := n.sender.SendEmail(n.settings.Recipient, subject, body); err != nil {
		n.logger.Error("Failed to send master key rotation notification.", "error", err)
		return err
	}
	return nil
}

func (n *emailSecurityNotifier) NotifyCircleKeyRotated(circleID string, circleName string, generation int) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if time.Since(n.lastNotification[circleID]) < n.settings.MinInterval {
		n.logger.Info("Skipping circle key rotation notification due to rate limiting.", "circle", circleID)
		return nil
	}

	subject := "Trust circles: circle key rotated"
	body := fmt.Sprintf("The key of circle '%s' (%s) was rotated to generation %d.\n\nData written under the previous generation stays readable until its grace period lapses.",
		circleName,
		circleID,
		generation)

	n.logger.Info("Sending circle key rotation notification.", "circle", circleID, "recipient", n.settings.Recipient)
	if err := n.sender.SendEmail(n.settings.Recipient, subject, body); err != nil {
		n.logger.Error("Failed to send circle key rotation notification.", "error", err, "circle", circleID)
		return err
	}

	n.lastNotification[circleID] = time.Now()
	return nil
}
