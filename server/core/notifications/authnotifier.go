package notifications

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
)

// Lockout describes an account that just became locked after repeated failed authentications
type Lockout struct {
	Account  string
	RemoteIP string // address of the attempt that reached the threshold
	Failures int
	LockedAt time.Time
}

// AuthNotifier reports account lockouts to an operator
type AuthNotifier interface {
	NotifyLockout(lockout Lockout) error
}

type nopAuthNotifier struct{}

var NopAuthNotifier AuthNotifier = &nopAuthNotifier{}

func (n *nopAuthNotifier) NotifyLockout(lockout Lockout) error {
	return nil
}

type AuthNotificationSettings struct {
	Recipient string
	// Lockouts of the same account within MinInterval produce a single message
	MinInterval time.Duration
	// LockoutWindow is the failure window of the tracker; the lock lifts once the oldest counted failure leaves it
	LockoutWindow time.Duration
}

type emailAuthNotifier struct {
	settings AuthNotificationSettings
	sender   EmailSender
	logger   logging.Logger

	mu       sync.Mutex
	reported map[string]time.Time // account -> lock time of the last reported lockout
}

func NewEmailAuthNotifier(settings AuthNotificationSettings, sender EmailSender, logger logging.Logger) AuthNotifier {
	if logger == nil {
		logger = logging.NopLogger
	}

	return &emailAuthNotifier{
		settings: settings,
		sender:   sender,
		logger:   logger,
		reported: make(map[string]time.Time),
	}
}

func (n *emailAuthNotifier) NotifyLockout(lockout Lockout) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.reported[lockout.Account]; ok && lockout.LockedAt.Sub(last) < n.settings.MinInterval {
		n.logger.Info("Lockout already reported", "account", lockout.Account, "since", last)
		return nil
	}

	subject := fmt.Sprintf("Trust circles: account '%s' locked out", lockout.Account)
	n.logger.Info("Sending lockout notification", "account", lockout.Account, "recipient", n.settings.Recipient, "failures", lockout.Failures)
	if err := n.sender.SendEmail(n.settings.Recipient, subject, lockoutBody(lockout, n.settings.LockoutWindow)); err != nil {
		n.logger.Error("Failed to send lockout notification", "error", err, "account", lockout.Account)
		return err
	}

	n.reported[lockout.Account] = lockout.LockedAt
	return nil
}

func lockoutBody(lockout Lockout, window time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The account '%s' was locked after %d failed authentications", lockout.Account, lockout.Failures)
	if window > 0 {
		fmt.Fprintf(&b, " within %s", window)
	}
	b.WriteString(".\n\n")

	fmt.Fprintf(&b, "Last attempt from: %s\n", lockout.RemoteIP)
	fmt.Fprintf(&b, "Locked at: %s\n", lockout.LockedAt.UTC().Format(time.RFC3339))
	if window > 0 {
		fmt.Fprintf(&b, "Unlocks no later than: %s\n", lockout.LockedAt.Add(window).UTC().Format(time.RFC3339))
	}

	b.WriteString("\nEvery request for the account is rejected until then, including ones with the correct credential. ")
	b.WriteString("If the attempts were not made by the member, rotate the member's credential once the lock lifts.\n")
	return b.String()
}
