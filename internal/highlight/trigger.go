package highlight

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// Trigger is one owner's subscribed phrase plus its compiled matcher.
//
// Triggers are owned exclusively by the Index; nothing else mutates them.
type Trigger struct {
	OwnerID int64
	Phrase  string

	pattern *regexp.Regexp
}

// NewTrigger compiles a case-insensitive whole-word matcher for phrase.
// The phrase is matched literally; regex metacharacters carry no meaning.
//
// A \b boundary only exists next to a word rune, so it is asserted per
// edge: a phrase like "c++" keeps its leading boundary but not a trailing
// one, otherwise it could never match at all.
func NewTrigger(ownerID int64, phrase string) (*Trigger, error) {
	expr := "(?i)"
	runes := []rune(phrase)
	if len(runes) > 0 && isWordRune(runes[0]) {
		expr += `\b`
	}
	expr += regexp.QuoteMeta(phrase)
	if len(runes) > 0 && isWordRune(runes[len(runes)-1]) {
		expr += `\b`
	}
	pat, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile trigger pattern: %w", err)
	}
	return &Trigger{OwnerID: ownerID, Phrase: phrase, pattern: pat}, nil
}

// isWordRune mirrors the word class \b anchors against.
func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}

// Matches reports whether the trigger's pattern finds text.
func (t *Trigger) Matches(text string) bool {
	return t.pattern.MatchString(text)
}

func (t *Trigger) String() string {
	return fmt.Sprintf("Trigger{owner=%d phrase=%q}", t.OwnerID, t.Phrase)
}

func validatePhrase(phrase string) error {
	n := utf8.RuneCountInString(phrase)
	if n < MinPhraseRunes {
		return errPhraseTooShort()
	}
	if n >= MaxPhraseRunes {
		return errPhraseTooLong()
	}
	return nil
}
