package room

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max text size
	MaxTextChars    = 2000 // max character count
)

// ValidateText checks that message text meets content requirements. Empty
// text is allowed here; the empty-message rule (no text and no file) is
// enforced by the stores.
func ValidateText(text string) error {
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
