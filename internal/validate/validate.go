// Package validate normalizes and rejects user-supplied chat text. It is a
// pure function layer: text in, normalized text or a reason out.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	MaxMessageLen  = 1000
	MinRoomNameLen = 2
	MaxRoomNameLen = 50
)

var (
	ErrEmptyMessage      = errors.New("message cannot be empty")
	ErrMessageTooLong    = fmt.Errorf("message too long (max %d characters)", MaxMessageLen)
	ErrControlChars      = errors.New("message contains control characters")
	ErrSpamLike          = errors.New("message looks like spam")
	ErrDangerousContent  = errors.New("message contains disallowed content")
	ErrEmptyRoomName     = errors.New("room name cannot be empty")
	ErrRoomNameTooShort  = fmt.Errorf("room name too short (min %d characters)", MinRoomNameLen)
	ErrRoomNameTooLong   = fmt.Errorf("room name too long (max %d characters)", MaxRoomNameLen)
	ErrRoomNameBadChars  = errors.New("room name may only contain letters, digits, spaces, hyphens and underscores")
	ErrRoomNameReserved  = errors.New("room name is reserved")
)

var (
	roomNamePattern = regexp.MustCompile(`^[a-zA-Zа-яА-Я0-9_\-\s]+$`)
	controlChars    = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")

	// Obvious script-injection attempts; real rendering safety belongs to
	// the client, this is a first line only.
	dangerousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)<iframe[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
	}

	reservedRoomNames = map[string]struct{}{
		"admin": {}, "administrator": {}, "root": {}, "system": {},
		"api": {}, "www": {}, "mail": {}, "ftp": {}, "localhost": {},
		"test": {}, "null": {}, "undefined": {}, "none": {}, "default": {},
	}
)

// MessageContent returns the trimmed message text or the reason it was
// rejected.
func MessageContent(content string) (string, error) {
	if content == "" {
		return "", ErrEmptyMessage
	}
	if len(content) > MaxMessageLen {
		return "", ErrMessageTooLong
	}
	if controlChars.MatchString(content) {
		return "", ErrControlChars
	}
	if len(content) > 10 && distinctRunes(content) < 3 {
		return "", ErrSpamLike
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(content) {
			return "", ErrDangerousContent
		}
	}
	return strings.TrimSpace(content), nil
}

// RoomName returns the normalized room name or the reason it was rejected.
func RoomName(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyRoomName
	}
	name = strings.TrimSpace(name)
	if len(name) < MinRoomNameLen {
		return "", ErrRoomNameTooShort
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	if !roomNamePattern.MatchString(name) {
		return "", ErrRoomNameBadChars
	}
	if _, ok := reservedRoomNames[strings.ToLower(name)]; ok {
		return "", ErrRoomNameReserved
	}
	return name, nil
}

// TextValidator satisfies the presence layer's validator contract.
type TextValidator struct{}

func (TextValidator) ValidateMessageContent(content string) (string, error) {
	return MessageContent(content)
}

func (TextValidator) ValidateRoomName(name string) (string, error) {
	return RoomName(name)
}

func distinctRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
