package discounts

import (
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// Rejection builds an INSTRUMENT_REJECTED error naming the instrument and reason.
func Rejection(instrument, reason, message string) error {
	return pkgerrors.New(pkgerrors.CodeInstrumentRejected, message).WithDetails(map[string]any{
		"instrument": instrument,
		"reason":     reason,
	})
}

// RejectionReason extracts the instrument and reason from a rejection error.
func RejectionReason(err error) (instrument, reason string, ok bool) {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInstrumentRejected {
		return "", "", false
	}
	details, isMap := typed.Details().(map[string]any)
	if !isMap {
		return "", "", false
	}
	instrument, _ = details["instrument"].(string)
	reason, _ = details["reason"].(string)
	return instrument, reason, true
}
