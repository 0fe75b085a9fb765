package errutil

import (
	"errors"
	"fmt"
)

// Kind classifies how the engine reacts to an error.
type Kind string

const (
	// KindConfiguration halts a whole validation job before any row is processed.
	KindConfiguration Kind = "CONFIGURATION"
	// KindRow is recorded on a single result row; the job keeps going.
	KindRow Kind = "ROW"
	// KindState is an illegal lifecycle transition returned to the caller.
	KindState Kind = "STATE"
	// KindConflict is a lost optimistic race; callers retry.
	KindConflict Kind = "CONFLICT"
)

// Reason is the machine readable cause attached to engine errors and result rows.
type Reason string

const (
	ReasonNoMatchingRequirement  Reason = "NO_MATCHING_REQUIREMENT"
	ReasonDuplicateOrder         Reason = "DUPLICATE_ORDER"
	ReasonOutOfCampaignWindow    Reason = "OUT_OF_CAMPAIGN_WINDOW"
	ReasonInvalidStateTransition Reason = "INVALID_STATE_TRANSITION"
	ReasonKitAlreadyCompleted    Reason = "KIT_ALREADY_COMPLETED"
	ReasonCampaignNotActive      Reason = "CAMPAIGN_NOT_ACTIVE"
	ReasonInvalidFormat          Reason = "INVALID_FORMAT"
	ReasonMissingField           Reason = "MISSING_FIELD"
	ReasonSaleValueOutOfRange    Reason = "SALE_VALUE_OUT_OF_RANGE"
	ReasonSellerNotFound         Reason = "SELLER_NOT_FOUND"
	ReasonInvalidRule            Reason = "INVALID_RULE"
	ReasonUnmappedField          Reason = "UNMAPPED_REQUIRED_FIELD"
	ReasonConcurrentUpdate       Reason = "CONCURRENT_UPDATE"
	ReasonJobCancelled           Reason = "JOB_CANCELLED"
)

// ConfigurationError reports a malformed rule or mapping.
func ConfigurationError(reason Reason, msg string, options ...Option) error {
	opts := append([]Option{WithKind(KindConfiguration), WithReason(reason)}, options...)
	return New(StatusUnprocessableEntity, msg, opts...)
}

// RowError reports a problem with one input record.
func RowError(reason Reason, msg string, options ...Option) error {
	opts := append([]Option{WithKind(KindRow), WithReason(reason)}, options...)
	return New(StatusValidationFailed, msg, opts...)
}

// StateError reports an illegal transition.
func StateError(reason Reason, msg string, options ...Option) error {
	opts := append([]Option{WithKind(KindState), WithReason(reason)}, options...)
	return New(StatusConflict, msg, opts...)
}

// ConcurrencyConflict reports a lost race against another writer.
func ConcurrencyConflict(msg string, options ...Option) error {
	opts := append([]Option{WithKind(KindConflict), WithReason(ReasonConcurrentUpdate)}, options...)
	return New(StatusConflict, msg, opts...)
}

func RowErrorf(reason Reason, format string, args ...any) error {
	return RowError(reason, fmt.Sprintf(format, args...))
}

// KindOf returns the engine kind carried by err, or "".
func KindOf(err error) Kind {
	var be BaseError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// ReasonOf returns the reason carried by err, or "".
func ReasonOf(err error) Reason {
	var be BaseError
	if errors.As(err, &be) {
		return be.Reason
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human message of a BaseError without the status prefix.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var be BaseError
	if errors.As(err, &be) {
		return be.messageWithErr()
	}
	return err.Error()
}

// StatusOf returns the status code carried by err, or "".
func StatusOf(err error) CoreStatus {
	var be BaseError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
