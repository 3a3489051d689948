package delivery

import (
	"strings"

	"github.com/nextlevelbuilder/chatrelay/internal/channels"
)

// ErrorKind classifies a send failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTooLong
	KindEmptyText
)

func (k ErrorKind) String() string {
	switch k {
	case KindTooLong:
		return "too_long"
	case KindEmptyText:
		return "empty_text"
	default:
		return "unknown"
	}
}

const (
	descTooLong   = "Bad Request: message is too long"
	descEmptyText = "Bad Request: message text is empty"
)

// Classify maps a platform send error to an ErrorKind using the API description.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	desc := channels.Description(err)
	if desc == "" {
		// Errors not mapped to SendError still carry the description in the text.
		desc = err.Error()
	}
	switch {
	case strings.Contains(desc, descTooLong):
		return KindTooLong
	case strings.Contains(desc, descEmptyText):
		return KindEmptyText
	default:
		return KindUnknown
	}
}
