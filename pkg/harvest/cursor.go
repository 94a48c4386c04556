package harvest

import (
	"strconv"
	"strings"

	"vkharvest/pkg/errors"
)

// ChatCursor is the position token of an attachment history, rendered by
// the API as "<messageId>/<conversationMessageId>".
type ChatCursor struct {
	MessageID             int64
	ConversationMessageID int64
}

// ParseChatCursor parses a cursor token. The empty string is not a cursor;
// callers treat it as the end of the history.
func ParseChatCursor(s string) (ChatCursor, error) {
	head, tail, ok := strings.Cut(s, "/")
	if !ok {
		return ChatCursor{}, &errors.ParseError{Input: s, Reason: "expected <messageId>/<conversationMessageId>"}
	}
	if strings.Contains(tail, "/") {
		return ChatCursor{}, &errors.ParseError{Input: s, Reason: "too many components"}
	}

	msgID, err := parseCursorPart(head)
	if err != nil {
		return ChatCursor{}, &errors.ParseError{Input: s, Reason: "message id: " + err.Error()}
	}
	cmID, err := parseCursorPart(tail)
	if err != nil {
		return ChatCursor{}, &errors.ParseError{Input: s, Reason: "conversation message id: " + err.Error()}
	}

	return ChatCursor{MessageID: msgID, ConversationMessageID: cmID}, nil
}

func parseCursorPart(s string) (int64, error) {
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}

// String renders the cursor in wire form
func (c ChatCursor) String() string {
	return strconv.FormatInt(c.MessageID, 10) + "/" + strconv.FormatInt(c.ConversationMessageID, 10)
}
