package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"marketchat/pkg/errors"
)

// envelope is the backend's response wrapper: {success, data?, error?}.
// data is sometimes wrapped once more as {status: "success", data}.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

type innerEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// unwrap returns the payload of a response body with both envelope layers
// removed. Bodies that are not enveloped at all are returned as they are.
func unwrap(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var env envelope
	if body[0] != '{' || json.Unmarshal(body, &env) != nil || (env.Success == nil && env.Data == nil && env.Error == nil) {
		return body, nil
	}

	if env.Success != nil && !*env.Success {
		msg := errorText(env.Error)
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = "request failed"
		}
		return nil, errors.Upstream(msg, 0, nil)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) > 0 && data[0] == '{' {
		var inner innerEnvelope
		if json.Unmarshal(data, &inner) == nil && inner.Status != "" && inner.Data != nil {
			if inner.Status != "success" {
				return nil, errors.Upstream(fmt.Sprintf("backend reported status %q: %s", inner.Status, inner.Message), 0, nil)
			}
			data = bytes.TrimSpace(inner.Data)
		}
	}
	return data, nil
}

// errorText accepts an error as a bare string or as {message} / {error}.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Error
	}
	return string(raw)
}

var listKeys = []string{"items", "data", "chats", "rooms", "messages", "results"}

// decodeList decodes a collection that arrives either as a bare array or as an
// object holding the array under one of a few conventional keys. Anything
// unrecognisable yields an empty list.
func decodeList[T any](raw json.RawMessage) []T {
	raw = bytes.TrimSpace(raw)
	out := []T{}
	if len(raw) == 0 {
		return out
	}

	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &out); err != nil {
			return []T{}
		}
		return out
	}

	if raw[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return out
		}
		for _, key := range listKeys {
			if nested, ok := obj[key]; ok {
				return decodeList[T](nested)
			}
		}
	}
	return out
}

func statusError(status int, body []byte) error {
	msg := http.StatusText(status)
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		if text := errorText(env.Error); text != "" {
			msg = text
		} else if env.Message != "" {
			msg = env.Message
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return errors.Unauthorized(msg, nil)
	case http.StatusForbidden:
		return errors.Forbidden(msg, nil)
	case http.StatusNotFound:
		return errors.New("NOT_FOUND", msg, status, nil)
	case http.StatusTooManyRequests:
		return errors.TooManyRequests(msg)
	}
	return errors.Upstream(msg, status, nil)
}
