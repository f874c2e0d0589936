package presence

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrRoomExists        = errors.New("room already exists")
	ErrSelfDM            = errors.New("cannot send a direct message to yourself")
)

// Validator is the text-normalization collaborator.
type Validator interface {
	ValidateMessageContent(content string) (string, error)
	ValidateRoomName(name string) (string, error)
}
