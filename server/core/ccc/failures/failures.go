// Package failures holds the error taxonomy shared by the core services.
//
// Messages are deliberately generic. None of these types carry key material,
// credentials or the cause of a cryptographic failure.
package failures

import (
	"errors"
	"fmt"
)

// AuthenticationError signals a credential or master key mismatch.
// It never says which of the two was wrong.
type AuthenticationError struct {
	Account string
}

func (e *AuthenticationError) Error() string {
	return "invalid credentials"
}

// AuthorizationError signals that the caller's trust level does not cover the permission.
type AuthorizationError struct {
	Account    string
	Permission string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to perform %s", e.Permission)
}

// IllegalActionError signals that an operation would violate a system invariant.
type IllegalActionError struct {
	Reason string
}

func (e *IllegalActionError) Error() string {
	return "illegal action: " + e.Reason
}

// IdentificationError signals that a referenced record does not exist.
type IdentificationError struct {
	Kind string
	ID   string
}

func (e *IdentificationError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// VerificationError signals a signature that is expired or does not match.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string {
	return "signature verification failed: " + e.Reason
}

// ValidationError signals rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewAuthenticationError(account string) error {
	return &AuthenticationError{Account: account}
}

func NewAuthorizationError(account, permission string) error {
	return &AuthorizationError{Account: account, Permission: permission}
}

func NewIllegalActionError(reason string) error {
	return &IllegalActionError{Reason: reason}
}

func NewIdentificationError(kind, id string) error {
	return &IdentificationError{Kind: kind, ID: id}
}

func NewVerificationError(reason string) error {
	return &VerificationError{Reason: reason}
}

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

func IsAuthenticationError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func IsAuthorizationError(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsIllegalActionError(err error) bool {
	var target *IllegalActionError
	return errors.As(err, &target)
}

func IsIdentificationError(err error) bool {
	var target *IdentificationError
	return errors.As(err, &target)
}

func IsVerificationError(err error) bool {
	var target *VerificationError
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
