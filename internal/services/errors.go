package services

import (
	"errors"
	"fmt"
)

// ===== SESSION ERRORS =====

var (
	// ErrSessionAlreadyActive rejects a start while the student has a
	// live session in the same subject.
	ErrSessionAlreadyActive = errors.New("an active session already exists for this subject")

	// ErrSessionNotFound covers unknown, foreign and terminal sessions;
	// a completed session is unreachable for further answers.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStaleQuestion rejects an answer for a question that is not the
	// session's currently pending one. The client must re-fetch.
	ErrStaleQuestion = errors.New("submitted question does not match the pending question")

	// ErrInvalidAnswerIndex rejects an option index outside the
	// question's option list before any state changes.
	ErrInvalidAnswerIndex = errors.New("selected option index is out of range")

	// ErrSubmissionConflict means a concurrent submission advanced the
	// session first; the losing caller should re-fetch and retry.
	ErrSubmissionConflict = errors.New("another submission is in progress for this session")
)

// ===== QUESTION ERRORS =====

var (
	ErrQuestionNotFound = errors.New("question not found")

	// ErrQuestionBankExhausted means no eligible question exists within
	// the tolerance band for the subject.
	ErrQuestionBankExhausted = errors.New("question bank exhausted for subject")

	// ErrQuestionInUse blocks edits and deletes while an active session
	// references the question.
	ErrQuestionInUse = errors.New("question is referenced by an active session")
)

// ===== OTHER ERRORS =====

var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrConfigNotFound     = errors.New("assessment configuration not found")
)

// PermissionError carries the denied action for the handler layer.
type PermissionError struct {
	UserID string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.UserID, e.Action)
}

func NewPermissionError(userID, action string) *PermissionError {
	return &PermissionError{UserID: userID, Action: action}
}

// IsPermissionError reports whether err is a permission denial.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}
