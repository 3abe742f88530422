package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mingtsay/openclaw/pkg/config"
)

// ExternalMessage is an injection payload that passed validation, with its
// identifiers coerced to the numeric forms the platform uses.
type ExternalMessage struct {
	AccountID        string
	ChatID           int64
	MessageID        int
	SenderName       string
	SenderUsername   string
	SenderID         int64
	Text             string
	Timestamp        int64
	ReplyToMessageID *int
	ThreadID         *int
}

// IsGroup reports whether the chat id denotes a group-like chat.
func (m ExternalMessage) IsGroup() bool {
	return m.ChatID < 0
}

// wirePayload holds the untrusted body fields before any coercion. A nil
// field fails every tag, so absent and null are both rejected.
type wirePayload struct {
	ChatID     any `validate:"flexid"`
	MessageID  any `validate:"flexid"`
	SenderName any `validate:"nonblank"`
	Text       any `validate:"isstring"`
	Timestamp  any `validate:"isnumber"`

	SenderUsername   any
	SenderID         any
	ReplyToMessageID any
	ThreadID         any
	AccountID        any
}

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	for tag, fn := range map[string]validator.Func{
		"flexid":   isFlexibleID,
		"nonblank": isNonBlankString,
		"isstring": isString,
		"isnumber": isNumber,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return v
}

func isFlexibleID(fl validator.FieldLevel) bool {
	switch fl.Field().Interface().(type) {
	case json.Number, string:
		return true
	}
	return false
}

func isNonBlankString(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	return ok && strings.TrimSpace(s) != ""
}

func isString(fl validator.FieldLevel) bool {
	_, ok := fl.Field().Interface().(string)
	return ok
}

func isNumber(fl validator.FieldLevel) bool {
	_, ok := fl.Field().Interface().(json.Number)
	return ok
}

// ParsePayload decodes and validates a request body. Malformed JSON yields a
// parse error; any shape violation yields ErrInvalidPayload.
func ParsePayload(body []byte) (ExternalMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return ExternalMessage{}, parseError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ExternalMessage{}, parseError(errors.New("unexpected data after JSON value"))
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return ExternalMessage{}, ErrInvalidPayload
	}

	p := wirePayload{
		ChatID:           obj["chatId"],
		MessageID:        obj["messageId"],
		SenderName:       obj["senderName"],
		Text:             obj["text"],
		Timestamp:        obj["timestamp"],
		SenderUsername:   obj["senderUsername"],
		SenderID:         obj["senderId"],
		ReplyToMessageID: obj["replyToMessageId"],
		ThreadID:         obj["threadId"],
		AccountID:        obj["accountId"],
	}
	if err := payloadValidator.Struct(p); err != nil {
		return ExternalMessage{}, ErrInvalidPayload
	}
	return p.normalize()
}

func (p wirePayload) normalize() (ExternalMessage, error) {
	chatID, ok := toInt64(p.ChatID)
	if !ok {
		return ExternalMessage{}, ErrInvalidPayload
	}
	messageID, ok := toInt64(p.MessageID)
	if !ok || messageID > math.MaxInt32 || messageID < math.MinInt32 {
		return ExternalMessage{}, ErrInvalidPayload
	}
	ts, err := p.Timestamp.(json.Number).Float64()
	if err != nil {
		return ExternalMessage{}, ErrInvalidPayload
	}

	msg := ExternalMessage{
		AccountID:  config.DefaultAccountID,
		ChatID:     chatID,
		MessageID:  int(messageID),
		SenderName: strings.TrimSpace(p.SenderName.(string)),
		Text:       p.Text.(string),
		Timestamp:  int64(ts),
	}

	if s, ok := p.SenderUsername.(string); ok {
		msg.SenderUsername = strings.TrimPrefix(strings.TrimSpace(s), "@")
	}
	if id, ok := toInt64(p.SenderID); ok {
		msg.SenderID = id
	}
	msg.ReplyToMessageID = optionalID(p.ReplyToMessageID)
	msg.ThreadID = optionalID(p.ThreadID)

	switch v := p.AccountID.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			msg.AccountID = s
		}
	case json.Number:
		msg.AccountID = v.String()
	}

	return msg, nil
}

// toInt64 accepts JSON numbers with no fractional part and decimal strings.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func optionalID(v any) *int {
	id, ok := toInt64(v)
	if !ok || id <= 0 || id > math.MaxInt32 {
		return nil
	}
	out := int(id)
	return &out
}
