package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/user/autoengage/internal/eligibility"
)

type commentsResponse struct {
	apiResponse
	Comments []struct {
		PK   json.Number `json:"pk"`
		Text string      `json:"text"`
		User userJSON    `json:"user"`
	} `json:"comments"`
}

// Comments fetches the comment thread of mediaID.
func (c *Client) Comments(ctx context.Context, mediaID string) (eligibility.Thread, error) {
	code, body, err := c.get(ctx, "media/"+url.PathEscape(mediaID)+"/comments/")
	if err != nil {
		return nil, fmt.Errorf("fetch comments of %s: %w", mediaID, err)
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("fetch comments of %s: %s", mediaID, describe(code, body))
	}

	var resp commentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode comments of %s: %w", mediaID, err)
	}

	thread := make(eligibility.Thread, 0, len(resp.Comments))
	for _, cm := range resp.Comments {
		thread = append(thread, eligibility.Comment{
			ID:             cm.PK.String(),
			AuthorID:       cm.User.PK.String(),
			AuthorUsername: cm.User.Username,
			Text:           cm.Text,
		})
	}
	return thread, nil
}

type userInfoResponse struct {
	apiResponse
	User userJSON `json:"user"`
}

// ResolveUsername returns the user id for username. Hits are cached; misses are not.
func (c *Client) ResolveUsername(ctx context.Context, username string) (string, bool, error) {
	if id, ok := c.users.Get(username); ok {
		return id, true, nil
	}

	code, body, err := c.get(ctx, "users/"+url.PathEscape(username)+"/usernameinfo/")
	if err != nil {
		return "", false, fmt.Errorf("resolve %s: %w", username, err)
	}
	if code == http.StatusNotFound {
		return "", false, nil
	}
	if code != http.StatusOK {
		return "", false, fmt.Errorf("resolve %s: %s", username, describe(code, body))
	}

	var resp userInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false, fmt.Errorf("decode user info for %s: %w", username, err)
	}
	if resp.Status != "ok" || resp.User.PK == "" {
		return "", false, nil
	}

	id := resp.User.PK.String()
	c.users.Add(username, id)
	return id, true, nil
}
