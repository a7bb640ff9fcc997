package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain errors for the HTTP layer and for sweep reports.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindInvariant     ErrorKind = "invariant"
	KindInternal      ErrorKind = "internal"
)

// DomainError is a rejection the caller can act on. Two DomainErrors match
// under errors.Is when their codes are equal.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func domainErr(kind ErrorKind, code, msg string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: msg}
}

func validationf(code, format string, args ...interface{}) *DomainError {
	return domainErr(KindValidation, code, fmt.Sprintf(format, args...))
}

var (
	// validation
	ErrInvalidScore       = domainErr(KindValidation, "invalid_score", "score is not a valid tennis result")
	ErrInvalidFormat      = domainErr(KindValidation, "invalid_format", "unknown match format")
	ErrSelfReport         = domainErr(KindValidation, "self_report", "you cannot report a match against yourself")
	ErrFutureMatch        = domainErr(KindValidation, "future_match", "a match cannot be played in the future")
	ErrMatchTooOld        = domainErr(KindValidation, "match_too_old", "the match is older than the reporting window")
	ErrNotParticipant     = domainErr(KindValidation, "not_participant", "you did not play in this match")
	ErrNotClubMates       = domainErr(KindValidation, "not_club_mates", "both players must be active members of the same club")
	ErrMissingPlayer      = domainErr(KindValidation, "missing_player", "player id is required")
	ErrInvalidDecision    = domainErr(KindValidation, "invalid_decision", "decision must be 'reinstate' or 'keep_reverted'")
	ErrInvalidAdjustment  = domainErr(KindValidation, "invalid_adjustment", "adjustment delta must be non-zero")
	ErrContestWindowEnded = domainErr(KindValidation, "contestation_window_closed", "the contestation window for this match has closed")

	// authorization
	ErrReporterCannotConfirm = domainErr(KindAuthorization, "reporter_cannot_confirm", "the reporting player cannot confirm their own result")
	ErrReporterCannotContest = domainErr(KindAuthorization, "reporter_cannot_contest", "the reporting player cannot contest a result awaiting confirmation")
	ErrNotAdmin              = domainErr(KindAuthorization, "not_admin", "only a club administrator can resolve a contested match")
	ErrNotClubMember         = domainErr(KindAuthorization, "not_club_member", "you are not an active member of this club")
	ErrContestLimitReached   = domainErr(KindAuthorization, "contestation_limit", "monthly contestation limit reached")

	// lookup
	ErrMatchNotFound  = domainErr(KindNotFound, "match_not_found", "match not found")
	ErrPlayerNotFound = domainErr(KindNotFound, "player_not_found", "player rating not found")

	// state
	ErrInvalidTransition = domainErr(KindConflict, "invalid_transition", "this action is not allowed in the match's current state")
	ErrNotYetDue         = domainErr(KindConflict, "not_yet_due", "the match is not due for auto-validation yet")

	// invariant
	ErrRatingAlreadyApplied = domainErr(KindInvariant, "rating_already_applied", "rating was already applied for this match")
)

// KindOf classifies err; errors that are not DomainErrors are internal.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of a DomainError, or "internal_error".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal_error"
}
