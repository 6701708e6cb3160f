package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/user/autoengage/internal/action"
)

// Payload keys understood by Execute.
const (
	KeyCommentText = "comment_text"
	KeyReplyTo     = "replied_to_comment_id"
	KeyText        = "text"
)

// Execute performs req against the platform and classifies the response.
func (c *Client) Execute(ctx context.Context, req action.Request) action.Result {
	path, form, err := route(req)
	if err != nil {
		return action.Result{RawStatus: err.Error()}
	}

	code, body, err := c.post(ctx, path, form)
	if err != nil {
		return action.Result{RawStatus: fmt.Sprintf("request failed: %v", err)}
	}
	return Classify(code, body)
}

func route(req action.Request) (string, url.Values, error) {
	if req.Target == "" {
		return "", nil, fmt.Errorf("%s: missing target", req.Type)
	}
	target := url.PathEscape(req.Target)
	form := url.Values{}

	switch req.Type {
	case action.Like:
		return "media/" + target + "/like/", form, nil
	case action.Unlike:
		return "media/" + target + "/unlike/", form, nil
	case action.Comment, action.Reply:
		text := req.Payload[KeyCommentText]
		if text == "" {
			return "", nil, fmt.Errorf("%s: missing comment text", req.Type)
		}
		form.Set(KeyCommentText, text)
		if req.Type == action.Reply {
			parent := req.Payload[KeyReplyTo]
			if parent == "" {
				return "", nil, fmt.Errorf("reply: missing parent comment")
			}
			form.Set(KeyReplyTo, parent)
		}
		return "media/" + target + "/comment/", form, nil
	case action.Follow:
		return "friendships/create/" + target + "/", form, nil
	case action.Unfollow:
		return "friendships/destroy/" + target + "/", form, nil
	case action.Message:
		text := req.Payload[KeyText]
		if text == "" {
			return "", nil, fmt.Errorf("message: missing text")
		}
		form.Set("recipient_users", req.Target)
		form.Set(KeyText, text)
		return "direct_v2/threads/broadcast/text/", form, nil
	default:
		return "", nil, fmt.Errorf("unsupported action type %q", req.Type)
	}
}

// Classify maps a raw platform response onto an action.Result. Spam feedback is
// reported as a blocked signal regardless of the HTTP status code.
func Classify(code int, body []byte) action.Result {
	var resp apiResponse
	_ = json.Unmarshal(body, &resp)

	if resp.Message == "feedback_required" || resp.Spam {
		status := fmt.Sprintf("%d feedback_required", code)
		if resp.FeedbackTitle != "" {
			status += ": " + resp.FeedbackTitle
		}
		return action.Result{BlockedSignal: true, RawStatus: status}
	}
	if code >= 200 && code < 300 && resp.Status == "ok" {
		return action.Result{Succeeded: true, RawStatus: fmt.Sprintf("%d ok", code)}
	}
	return action.Result{RawStatus: describe(code, body)}
}
