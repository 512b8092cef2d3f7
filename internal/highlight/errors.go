package highlight

import "fmt"

const (
	// MaxTriggers is the per-owner trigger quota.
	MaxTriggers = 10
	// MinPhraseRunes is the shortest accepted phrase length.
	MinPhraseRunes = 2
	// MaxPhraseRunes is the exclusive upper bound on phrase length.
	MaxPhraseRunes = 99
)

// ValidationError is a user-correctable rejection of a trigger mutation.
// Its message is meant to be surfaced verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// SelectorError reports an out-of-range removal index.
// Its message is meant to be surfaced verbatim.
type SelectorError struct {
	Index int
	Count int
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("index %d is out of range (%d highlights exist)", e.Index, e.Count)
}

func (e *SelectorError) Is(target error) bool {
	_, ok := target.(*SelectorError)
	return ok
}

func errPhraseTooShort() error {
	return &ValidationError{Reason: fmt.Sprintf("highlights must contain at least %d characters", MinPhraseRunes)}
}

func errPhraseTooLong() error {
	return &ValidationError{Reason: fmt.Sprintf("highlights cannot be %d or more characters", MaxPhraseRunes)}
}

func errQuotaExceeded() error {
	return &ValidationError{Reason: fmt.Sprintf("all %d highlight slots are used", MaxTriggers)}
}

func errDuplicatePhrase() error {
	return &ValidationError{Reason: "a highlight with that content already exists"}
}
