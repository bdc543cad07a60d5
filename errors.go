package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider"
)

// Store-level sentinels. Backends return these (possibly wrapped) so the
// engine can branch on them.
var (
	ErrNotFound      = errors.New("billing: not found")
	ErrAlreadyExists = errors.New("billing: already exists")
	ErrCacheMiss     = errors.New("billing: cache miss")
	ErrLimitReached  = errors.New("billing: limit reached")
	ErrStoreClosed   = errors.New("billing: store is closed")
)

// Code is a machine-readable error code surfaced to callers verbatim.
type Code string

const (
	CodeInvalidPlan             Code = "INVALID_PLAN"
	CodeAlreadySubscribed       Code = "ALREADY_SUBSCRIBED"
	CodeNoSubscription          Code = "NO_SUBSCRIPTION"
	CodeUsageLimitExceeded      Code = "USAGE_LIMIT_EXCEEDED"
	CodePaymentFailed           Code = "PAYMENT_FAILED"
	CodeInvalidWebhook          Code = "INVALID_WEBHOOK"
	CodeCustomerNotFound        Code = "CUSTOMER_NOT_FOUND"
	CodeSubscriptionNotFound    Code = "SUBSCRIPTION_NOT_FOUND"
	CodeInvalidAccount          Code = "INVALID_ACCOUNT"
	CodeSubscriptionCanceled    Code = "SUBSCRIPTION_CANCELED"
	CodePlanRequired            Code = "PLAN_REQUIRED"
	CodeFeatureRequired         Code = "FEATURE_REQUIRED"
	CodeNoAuth                  Code = "NO_AUTH"
	CodeForbidden               Code = "FORBIDDEN"
	CodePaymentMethodNotFound   Code = "PAYMENT_METHOD_NOT_FOUND"
	CodeInvalidAction           Code = "INVALID_ACTION"
	CodeCheckoutFailed          Code = "CHECKOUT_FAILED"
	CodePortalFailed            Code = "PORTAL_FAILED"
	CodeSubscriptionFetchFailed Code = "SUBSCRIPTION_FETCH_FAILED"
	CodeCancelFailed            Code = "CANCEL_FAILED"
	CodeReactivateFailed        Code = "REACTIVATE_FAILED"
	CodePlanChangeFailed        Code = "PLAN_CHANGE_FAILED"
	CodeInvoicesFailed          Code = "INVOICES_FAILED"
	CodeCustomerCreateFailed    Code = "CUSTOMER_CREATE_FAILED"
	CodeCustomerUpdateFailed    Code = "CUSTOMER_UPDATE_FAILED"
	CodePaymentMethodsFailed    Code = "PAYMENT_METHODS_FAILED"
	CodeUsageFailed             Code = "USAGE_FAILED"
)

var statusByCode = map[Code]int{
	CodeInvalidPlan:           http.StatusBadRequest,
	CodeAlreadySubscribed:     http.StatusBadRequest,
	CodeNoSubscription:        http.StatusNotFound,
	CodeUsageLimitExceeded:    http.StatusTooManyRequests,
	CodePaymentFailed:         http.StatusPaymentRequired,
	CodeInvalidWebhook:        http.StatusBadRequest,
	CodeCustomerNotFound:      http.StatusNotFound,
	CodeSubscriptionNotFound:  http.StatusNotFound,
	CodeInvalidAccount:        http.StatusBadRequest,
	CodeSubscriptionCanceled:  http.StatusConflict,
	CodePlanRequired:          http.StatusForbidden,
	CodeFeatureRequired:       http.StatusForbidden,
	CodeNoAuth:                http.StatusUnauthorized,
	CodeForbidden:             http.StatusForbidden,
	CodePaymentMethodNotFound: http.StatusNotFound,
	CodeInvalidAction:         http.StatusBadRequest,
}

// Status returns the HTTP status for c. Unknown codes, including every
// *_FAILED code, map to 500.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Coded is implemented by every error the engine surfaces to callers.
type Coded interface {
	error
	ErrorCode() Code
	StatusCode() int
}

// Error is a business or transport failure with a stable code. Detail
// carries the underlying diagnostic message for *_FAILED codes.
type Error struct {
	Code    Code
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("billing: %s: %s", e.Message, e.Detail)
	}
	return "billing: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *Error) ErrorCode() Code { return e.Code }
func (e *Error) StatusCode() int { return e.Code.Status() }

// newError builds an *Error. Callers compare with errors.Is against the
// sentinel of the same code.
func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidPlan           = newError(CodeInvalidPlan, "invalid plan")
	ErrAlreadySubscribed     = newError(CodeAlreadySubscribed, "already subscribed to this plan")
	ErrNoSubscription        = newError(CodeNoSubscription, "no active subscription")
	ErrUsageLimitExceeded    = newError(CodeUsageLimitExceeded, "usage limit exceeded")
	ErrPaymentFailed         = newError(CodePaymentFailed, "payment failed")
	ErrInvalidWebhook        = newError(CodeInvalidWebhook, "invalid webhook signature")
	ErrCustomerNotFound      = newError(CodeCustomerNotFound, "customer not found")
	ErrSubscriptionNotFound  = newError(CodeSubscriptionNotFound, "subscription not found")
	ErrInvalidAccount        = newError(CodeInvalidAccount, "account id and email are required")
	ErrSubscriptionCanceled  = newError(CodeSubscriptionCanceled, "subscription is canceled")
	ErrPlanRequired          = newError(CodePlanRequired, "plan upgrade required")
	ErrFeatureRequired       = newError(CodeFeatureRequired, "feature not available on current plan")
	ErrNoAuth                = newError(CodeNoAuth, "authentication required")
	ErrForbidden             = newError(CodeForbidden, "not permitted for this account")
	ErrPaymentMethodNotFound = newError(CodePaymentMethodNotFound, "payment method not found")
	ErrInvalidAction         = newError(CodeInvalidAction, "unknown action")
)

// wrapFailure maps a provider error onto a *_FAILED code. Not-found and
// payment errors keep their specific codes.
func wrapFailure(code Code, msg string, err error) error {
	if err == nil {
		return nil
	}
	var coded Coded
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, provider.ErrPaymentDeclined):
		return &Error{Code: CodePaymentFailed, Message: "payment failed", Detail: err.Error(), Err: err}
	default:
		return &Error{Code: code, Message: msg, Detail: err.Error(), Err: err}
	}
}

// LimitError reports a quota rejection.
type LimitError struct {
	Action     string  `json:"action"`
	Limit      int64   `json:"limit"`
	Used       int64   `json:"used"`
	PlanID     plan.ID `json:"plan"`
	UpgradeURL string  `json:"upgradeUrl,omitempty"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("billing: %s limit reached (%d/%d) on plan %s", e.Action, e.Used, e.Limit, e.PlanID)
}

// Is matches ErrUsageLimitExceeded.
func (e *LimitError) Is(target error) bool {
	return target == ErrUsageLimitExceeded
}

func (e *LimitError) ErrorCode() Code { return CodeUsageLimitExceeded }
func (e *LimitError) StatusCode() int { return http.StatusTooManyRequests }

// Remaining is always zero for a limit error.
func (e *LimitError) Remaining() int64 { return 0 }

// AccessError reports a plan or feature gate rejection.
type AccessError struct {
	Code          Code      `json:"code"`
	CurrentPlan   plan.ID   `json:"currentPlan"`
	RequiredPlans []plan.ID `json:"requiredPlans,omitempty"`
	Feature       string    `json:"feature,omitempty"`
	UpgradeURL    string    `json:"upgradeUrl,omitempty"`
}

func (e *AccessError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("billing: feature %q not available on plan %s", e.Feature, e.CurrentPlan)
	}
	return fmt.Sprintf("billing: plan %s not in %v", e.CurrentPlan, e.RequiredPlans)
}

// Is matches the sentinel for its code.
func (e *AccessError) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *AccessError) ErrorCode() Code { return e.Code }
func (e *AccessError) StatusCode() int { return e.Code.Status() }

// CodeOf returns the code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// StatusCode returns the HTTP status for err, 500 when it carries no code.
func StatusCode(err error) int {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	return http.StatusInternalServerError
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoSubscription) ||
		errors.Is(err, provider.ErrNotFound)
}

// IsQuotaError returns true if the error is related to quota or plan gates.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrUsageLimitExceeded) ||
		errors.Is(err, ErrLimitReached) ||
		errors.Is(err, ErrPlanRequired) ||
		errors.Is(err, ErrFeatureRequired)
}

// IsRetryable returns true for transport failures the caller may retry.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeCheckoutFailed, CodePortalFailed, CodeSubscriptionFetchFailed,
		CodeCancelFailed, CodeReactivateFailed, CodePlanChangeFailed,
		CodeInvoicesFailed, CodeCustomerCreateFailed, CodeCustomerUpdateFailed,
		CodePaymentMethodsFailed, CodeUsageFailed:
		return true
	default:
		return false
	}
}
