package bybit

import (
	"errors"
	"fmt"
	"net/http"
)

// BybitError is a non-zero retCode from the v5 API
type BybitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BybitError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Bybit API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// Temporary reports whether the request may succeed if retried
func (e *BybitError) Temporary() bool {
	return IsRetryableError(e)
}

// Common Bybit error codes
const (
	ErrCodeServerTimeout       = 10000
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeServerError         = 10016
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeMarketClosed        = 110043
)

// IsRetryableError reports rate limits, timeouts and server-side failures
func IsRetryableError(err error) bool {
	var bybitErr *BybitError
	if !errors.As(err, &bybitErr) {
		return false
	}
	switch bybitErr.Code {
	case ErrCodeRateLimitExceeded, ErrCodeServerTimeout, ErrCodeServerError,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		switch bybitErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// IsOrderNotFoundError reports venue code 110001
func IsOrderNotFoundError(err error) bool {
	var bybitErr *BybitError
	return errors.As(err, &bybitErr) && bybitErr.Code == ErrCodeOrderNotFound
}

// countsAsSuccess keeps venue-side rejections such as an unknown order
// from counting as request failures.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		return !IsRetryableError(bybitErr) && !IsAuthenticationError(bybitErr)
	}
	return false
}

// NewBybitError creates a new BybitError
func NewBybitError(code int, message string, details ...string) *BybitError {
	err := &BybitError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WrapAPIError tags err with the failing operation
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var bybitErr *BybitError
	if errors.As(err, &bybitErr) {
		wrapped := *bybitErr
		wrapped.Details = fmt.Sprintf("operation: %s", operation)
		return &wrapped
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

// ParseAPIError extracts error information from the API response
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	if retMsg == "" {
		retMsg = GetErrorDescription(retCode)
	}
	return NewBybitError(retCode, retMsg)
}

// ErrorCodes holds fallback messages for codes the venue returns without one
var ErrorCodes = map[int]string{
	ErrCodeServerTimeout:       "Server timeout",
	ErrCodeInvalidAPIKey:       "Invalid API key",
	ErrCodeInvalidSignature:    "Invalid signature",
	ErrCodeInvalidTimestamp:    "Invalid timestamp",
	ErrCodeRateLimitExceeded:   "Rate limit exceeded",
	ErrCodeServerError:         "Server error",
	ErrCodeOrderNotFound:       "Order not found",
	ErrCodeInvalidOrderType:    "Invalid order type",
	ErrCodeInsufficientBalance: "Insufficient balance",
	ErrCodeSymbolNotFound:      "Symbol not found",
	ErrCodeInvalidQuantity:     "Invalid quantity",
	ErrCodeInvalidPrice:        "Invalid price",
	ErrCodeMarketClosed:        "Market is closed",
}

// GetErrorDescription looks up a fallback message
func GetErrorDescription(code int) string {
	if desc, exists := ErrorCodes[code]; exists {
		return desc
	}
	return fmt.Sprintf("Unknown error code: %d", code)
}
