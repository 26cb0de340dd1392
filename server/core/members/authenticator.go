package members

import (
	"context"
	"time"

	"github.com/HaugrNet/eds-sub006/server/core/ccc/auth"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/failures"
	"github.com/HaugrNet/eds-sub006/server/core/ccc/logging"
	"github.com/HaugrNet/eds-sub006/server/core/notifications"
)

type Authenticator interface {
	// Authenticate verifies the caller's credential through the escrow cascade
	Authenticate(ctx context.Context, caller Caller) (*Member, error)
	// ReportFailure records a failed attempt made outside Authenticate and returns the AuthenticationError to surface
	ReportFailure(account string, remoteIP string) error
	// IsLockedOut reports whether the account is temporarily locked
	IsLockedOut(account string) bool
	// ReportSuccess clears the failure history of the account
	ReportSuccess(account string)
}

type memberAuthenticator struct {
	logger   logging.Logger
	repo     MemberRepository
	vault    *Vault
	tracker  auth.FailureTracker
	notifier notifications.AuthNotifier
	nowFunc  func() time.Time
}

func NewAuthenticator(logger logging.Logger, repo MemberRepository, vault *Vault, tracker auth.FailureTracker, notifier notifications.AuthNotifier) *memberAuthenticator {
	if logger == nil {
		logger = logging.NopLogger
	}
	if tracker == nil {
		tracker = auth.NopFailureTracker
	}
	if notifier == nil {
		notifier = notifications.NopAuthNotifier
	}

	return &memberAuthenticator{
		logger:   logger,
		repo:     repo,
		vault:    vault,
		tracker:  tracker,
		notifier: notifier,
		nowFunc:  time.Now,
	}
}

func (a *memberAuthenticator) Authenticate(ctx context.Context, caller Caller) (*Member, error) {
	if a.IsLockedOut(caller.AccountName) {
		a.logger.Warn("Rejected authentication of locked out account", "account", caller.AccountName, "remoteIP", caller.RemoteIP)
		return nil, failures.NewAuthenticationError(caller.AccountName)
	}

	member, err := a.repo.GetByAccountName(ctx, caller.AccountName)
	if err != nil {
		a.logger.Error("Failed to look up member", "error", err)
		return nil, err
	}
	if member == nil {
		// don't specify the reason to avoid leaking information
		return nil, a.ReportFailure(caller.AccountName, caller.RemoteIP)
	}

	if !a.vault.CheckCredentials(a.vault.Escrow(), member, caller.Credential) {
		return nil, a.ReportFailure(caller.AccountName, caller.RemoteIP)
	}

	a.ReportSuccess(caller.AccountName)
	return member, nil
}

func (a *memberAuthenticator) ReportFailure(account string, remoteIP string) error {
	now := a.nowFunc()
	wasLocked := a.tracker.IsLockedOut(account, now)
	count := a.tracker.RecordFailure(account, remoteIP, now)
	a.logger.Warn("Authentication failed", "account", account, "remoteIP", remoteIP, "failures", count)

	if !wasLocked && a.tracker.IsLockedOut(account, now) {
		a.logger.Warn("Account locked out", "account", account, "failures", count)
		lockout := notifications.Lockout{Account: account, RemoteIP: remoteIP, Failures: count, LockedAt: now}
		if err := a.notifier.NotifyLockout(lockout); err != nil {
			a.logger.Error("Failed to send lockout notification", "error", err)
		}
	}

	return failures.NewAuthenticationError(account)
}

func (a *memberAuthenticator) IsLockedOut(account string) bool {
	return a.tracker.IsLockedOut(account, a.nowFunc())
}

func (a *memberAuthenticator) ReportSuccess(account string) {
	a.tracker.Reset(account)
}
