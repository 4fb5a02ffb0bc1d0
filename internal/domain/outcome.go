package domain

type Outcome string

const (
	OutcomeAccepted        Outcome = "ACCEPTED"
	OutcomeAlreadyRedeemed Outcome = "ALREADY_REDEEMED"
	OutcomeRejected        Outcome = "REJECTED"
)

type Reason string

const (
	ReasonInvalidPayload     Reason = "INVALID_PAYLOAD"
	ReasonUnknownCode        Reason = "UNKNOWN_CODE"
	ReasonTenantMismatch     Reason = "TENANT_MISMATCH"
	ReasonSessionInactive    Reason = "SESSION_INACTIVE"
	ReasonSessionExpired     Reason = "SESSION_EXPIRED"
	ReasonRedemptionLimit    Reason = "REDEMPTION_LIMIT"
	ReasonAlreadyRedeemed    Reason = "ALREADY_REDEEMED"
	ReasonOutOfRange         Reason = "OUT_OF_RANGE"
	ReasonRecordFailed       Reason = "RECORD_FAILED"
	ReasonStorageUnavailable Reason = "STORAGE_UNAVAILABLE"
)

// Retryable reports whether repeating the attempt may produce a different result.
// OUT_OF_RANGE changes when the subject moves; the infrastructure faults are safe
// to retry because duplicate redemptions are idempotent.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonOutOfRange, ReasonRecordFailed, ReasonStorageUnavailable:
		return true
	default:
		return false
	}
}

func (r Reason) Terminal() bool {
	switch r {
	case ReasonInvalidPayload, ReasonUnknownCode, ReasonTenantMismatch,
		ReasonSessionInactive, ReasonSessionExpired, ReasonRedemptionLimit:
		return true
	default:
		return false
	}
}
