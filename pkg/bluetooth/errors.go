package bluetooth

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is a platform error reported by the Bluetooth stack.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeInvalidParameters
	CodeInvalidHandle
	CodeNotConnected
	CodeOutOfSpace
	CodeOperationCancelled
	CodeConnectionTimeout
	CodePeripheralDisconnected
	CodeUUIDNotAllowed
	CodeAlreadyAdvertising
	CodeConnectionFailed
	CodeConnectionLimitReached
	CodeUnknownDevice
	CodeOperationNotSupported
	CodePeerRemovedPairingInformation
	CodeEncryptionTimedOut
	CodeTooManyLEPairedDevices
	// CodeATT marks a failure answered by the remote with an ATT error response.
	CodeATT
)

var errorCodeNames = [...]string{
	CodeUnknown:                       "unknown",
	CodeInvalidParameters:             "invalid parameters",
	CodeInvalidHandle:                 "invalid handle",
	CodeNotConnected:                  "not connected",
	CodeOutOfSpace:                    "out of space",
	CodeOperationCancelled:            "operation cancelled",
	CodeConnectionTimeout:             "connection timeout",
	CodePeripheralDisconnected:        "peripheral disconnected",
	CodeUUIDNotAllowed:                "uuid not allowed",
	CodeAlreadyAdvertising:            "already advertising",
	CodeConnectionFailed:              "connection failed",
	CodeConnectionLimitReached:        "connection limit reached",
	CodeUnknownDevice:                 "unknown device",
	CodeOperationNotSupported:         "operation not supported",
	CodePeerRemovedPairingInformation: "peer removed pairing information",
	CodeEncryptionTimedOut:            "encryption timed out",
	CodeTooManyLEPairedDevices:        "too many LE paired devices",
	CodeATT:                           "att error",
}

func (c ErrorCode) String() string {
	if c < 0 || int(c) >= len(errorCodeNames) {
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
	return errorCodeNames[c]
}

// ATTErrorCode is an Attribute Protocol error code (Vol 3, Part F, 3.4.1.1).
type ATTErrorCode byte

const (
	ATTSuccess                       ATTErrorCode = 0x00
	ATTInvalidHandle                 ATTErrorCode = 0x01
	ATTReadNotPermitted              ATTErrorCode = 0x02
	ATTWriteNotPermitted             ATTErrorCode = 0x03
	ATTInvalidPDU                    ATTErrorCode = 0x04
	ATTInsufficientAuthentication    ATTErrorCode = 0x05
	ATTRequestNotSupported           ATTErrorCode = 0x06
	ATTInvalidOffset                 ATTErrorCode = 0x07
	ATTInsufficientAuthorization     ATTErrorCode = 0x08
	ATTPrepareQueueFull              ATTErrorCode = 0x09
	ATTAttributeNotFound             ATTErrorCode = 0x0a
	ATTAttributeNotLong              ATTErrorCode = 0x0b
	ATTInsufficientEncryptionKeySize ATTErrorCode = 0x0c
	ATTInvalidAttributeValueLength   ATTErrorCode = 0x0d
	ATTUnlikelyError                 ATTErrorCode = 0x0e
	ATTInsufficientEncryption        ATTErrorCode = 0x0f
	ATTUnsupportedGroupType          ATTErrorCode = 0x10
	ATTInsufficientResources         ATTErrorCode = 0x11
)

var attErrorNames = map[ATTErrorCode]string{
	ATTSuccess:                       "success",
	ATTInvalidHandle:                 "invalid handle",
	ATTReadNotPermitted:              "read not permitted",
	ATTWriteNotPermitted:             "write not permitted",
	ATTInvalidPDU:                    "invalid PDU",
	ATTInsufficientAuthentication:    "insufficient authentication",
	ATTRequestNotSupported:           "request not supported",
	ATTInvalidOffset:                 "invalid offset",
	ATTInsufficientAuthorization:     "insufficient authorization",
	ATTPrepareQueueFull:              "prepare queue full",
	ATTAttributeNotFound:             "attribute not found",
	ATTAttributeNotLong:              "attribute not long",
	ATTInsufficientEncryptionKeySize: "insufficient encryption key size",
	ATTInvalidAttributeValueLength:   "invalid attribute value length",
	ATTUnlikelyError:                 "unlikely error",
	ATTInsufficientEncryption:        "insufficient encryption",
	ATTUnsupportedGroupType:          "unsupported group type",
	ATTInsufficientResources:         "insufficient resources",
}

func (c ATTErrorCode) String() string {
	if name, ok := attErrorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ATTErrorCode(0x%02x)", byte(c))
}

// Error is either a known platform error (Code other than CodeUnknown) or an
// unknown error carrying the platform's message.
type Error struct {
	Code    ErrorCode    `json:"code"`
	ATT     ATTErrorCode `json:"att,omitempty"`
	Message string       `json:"message,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Code == CodeATT:
		return fmt.Sprintf("att error: %s", e.ATT)
	case e.Code == CodeUnknown && e.Message != "":
		return e.Message
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	default:
		return e.Code.String()
	}
}

// Is matches another *Error with the same code (and ATT code for ATT errors).
// An unknown error only matches an unknown error with the same message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	switch e.Code {
	case CodeATT:
		return e.ATT == t.ATT
	case CodeUnknown:
		return t.Message == "" || e.Message == t.Message
	}
	return true
}

// IsKnown reports whether e is a known platform error.
func (e *Error) IsKnown() bool {
	return e.Code != CodeUnknown
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidParameters      = &Error{Code: CodeInvalidParameters}
	ErrNotConnected           = &Error{Code: CodeNotConnected}
	ErrOperationCancelled     = &Error{Code: CodeOperationCancelled}
	ErrConnectionTimeout      = &Error{Code: CodeConnectionTimeout}
	ErrPeripheralDisconnected = &Error{Code: CodePeripheralDisconnected}
	ErrAlreadyAdvertising     = &Error{Code: CodeAlreadyAdvertising}
	ErrConnectionFailed       = &Error{Code: CodeConnectionFailed}
	ErrUnknownDevice          = &Error{Code: CodeUnknownDevice}
	ErrOperationNotSupported  = &Error{Code: CodeOperationNotSupported}
)

// NewKnownError builds a known platform error with an optional detail message.
func NewKnownError(code ErrorCode, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

// NewATTError builds an error for an ATT error response.
func NewATTError(code ATTErrorCode) *Error {
	return &Error{Code: CodeATT, ATT: code}
}

// NewError converts any error into an *Error. It returns nil for nil.
// An *Error anywhere in the chain is returned as is; context cancellation
// and deadlines map to their platform codes; everything else becomes an
// unknown error carrying the message.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeConnectionTimeout, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeOperationCancelled, Message: err.Error()}
	}
	return &Error{Code: CodeUnknown, Message: err.Error()}
}
