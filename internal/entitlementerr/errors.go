// Package entitlementerr provides the typed error taxonomy returned by the
// entitlement core to its callers.
package entitlementerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, externally-visible error code.
type Code string

const (
	CodeBadgeNotFound        Code = "badge_not_found"
	CodeBadgeInactive        Code = "badge_inactive"
	CodeBadgeOutOfStock      Code = "badge_out_of_stock"
	CodeAcquisitionLimit     Code = "acquisition_limit_reached"
	CodePrerequisiteNotMet   Code = "prerequisite_not_met"
	CodeExclusiveConflict    Code = "exclusive_conflict"
	CodeUserBadgeNotFound    Code = "user_badge_not_found"
	CodeInsufficientBadges   Code = "insufficient_badges"
	CodeRuleNotFound         Code = "rule_not_found"
	CodeRuleInactive         Code = "rule_inactive"
	CodeBenefitNotFound      Code = "benefit_not_found"
	CodeBenefitInactive      Code = "benefit_inactive"
	CodeBenefitOutOfStock    Code = "benefit_out_of_stock"
	CodeFrequencyLimit       Code = "frequency_limit_reached"
	CodeDuplicateRedemption  Code = "duplicate_redemption"
	CodeConcurrencyConflict  Code = "concurrency_conflict"
	CodeCascadeDepthExceeded Code = "cascade_depth_exceeded"
	CodeCascadeTimeout       Code = "cascade_timeout"
	CodeValidation           Code = "validation"
	CodeInternal             Code = "internal"
)

// Error is a structured error carrying a stable code, a human-readable
// message, and optional machine-readable details.
type Error struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code Code, message string, httpStatus int, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

func BadgeNotFound(badgeID string) *Error {
	return New(CodeBadgeNotFound, "badge not found", http.StatusNotFound).WithDetails("badge_id", badgeID)
}

func BadgeInactive(badgeID string) *Error {
	return New(CodeBadgeInactive, "badge is not active", http.StatusConflict).WithDetails("badge_id", badgeID)
}

func BadgeOutOfStock(badgeID string) *Error {
	return New(CodeBadgeOutOfStock, "badge has no remaining supply", http.StatusConflict).WithDetails("badge_id", badgeID)
}

func AcquisitionLimitReached(badgeID string, limit int) *Error {
	return New(CodeAcquisitionLimit, "per-user acquisition limit reached", http.StatusConflict).
		WithDetails("badge_id", badgeID).WithDetails("limit", limit)
}

func PrerequisiteNotMet(missing []string) *Error {
	return New(CodePrerequisiteNotMet, "prerequisite not met", http.StatusConflict).WithDetails("missing", missing)
}

func ExclusiveConflict(conflicting string) *Error {
	return New(CodeExclusiveConflict, "conflicts with an exclusive badge already held", http.StatusConflict).
		WithDetails("conflicting", conflicting)
}

func UserBadgeNotFound(userID, badgeID string) *Error {
	return New(CodeUserBadgeNotFound, "user does not hold this badge", http.StatusNotFound).
		WithDetails("user_id", userID).WithDetails("badge_id", badgeID)
}

func InsufficientBadges(badgeID string, required, available int) *Error {
	return New(CodeInsufficientBadges, "insufficient badge quantity", http.StatusConflict).
		WithDetails("badge_id", badgeID).WithDetails("required", required).WithDetails("available", available)
}

func RuleNotFound(ruleID string) *Error {
	return New(CodeRuleNotFound, "rule not found", http.StatusNotFound).WithDetails("rule_id", ruleID)
}

func RuleInactive(ruleID string) *Error {
	return New(CodeRuleInactive, "rule is not currently effective", http.StatusConflict).WithDetails("rule_id", ruleID)
}

func BenefitNotFound(benefitID string) *Error {
	return New(CodeBenefitNotFound, "benefit not found", http.StatusNotFound).WithDetails("benefit_id", benefitID)
}

func BenefitInactive(benefitID string) *Error {
	return New(CodeBenefitInactive, "benefit is not active", http.StatusConflict).WithDetails("benefit_id", benefitID)
}

func BenefitOutOfStock(benefitID string) *Error {
	return New(CodeBenefitOutOfStock, "benefit has no remaining stock", http.StatusConflict).WithDetails("benefit_id", benefitID)
}

func FrequencyLimitReached(scope string) *Error {
	return New(CodeFrequencyLimit, "frequency ceiling reached", http.StatusConflict).WithDetails("scope", scope)
}

func DuplicateRedemption(orderNo string) *Error {
	return New(CodeDuplicateRedemption, "duplicate redemption request", http.StatusConflict).WithDetails("order_no", orderNo)
}

func ConcurrencyConflict(resource string) *Error {
	return New(CodeConcurrencyConflict, "concurrent modification conflict, retry", http.StatusConflict).
		WithDetails("resource", resource)
}

func CascadeDepthExceeded(depth int) *Error {
	return New(CodeCascadeDepthExceeded, "cascade max depth exceeded", http.StatusConflict).WithDetails("depth", depth)
}

func CascadeTimeout(elapsedMs int64) *Error {
	return New(CodeCascadeTimeout, "cascade time budget exceeded", http.StatusConflict).WithDetails("elapsed_ms", elapsedMs)
}

func Validation(field, reason string) *Error {
	return New(CodeValidation, "validation failed", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("reason", reason)
}

func Internal(message string, err error) *Error {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// As extracts an *Error from the error chain.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HTTPStatus returns the status code for an error, defaulting to 500.
func HTTPStatus(err error) int {
	if e := As(err); e != nil {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
