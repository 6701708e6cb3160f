package fakeplatform

import (
	"net/http"
	"strconv"
)

// FeedbackResponse is the body the platform sends when it flags an action as spam.
var FeedbackResponse = map[string]interface{}{
	"message":               "feedback_required",
	"spam":                  true,
	"feedback_title":        "Sorry, this feature isn't available right now",
	"feedback_message":      "An error occurred while processing this request. Please try again later. We restrict certain content and actions to protect our community. Tell us if you think we made a mistake.",
	"feedback_url":          "repute/report_problem/instagram_comment/",
	"feedback_appeal_label": "Report problem",
	"feedback_ignore_label": "OK",
	"feedback_action":       "report_problem",
	"status":                "fail",
}

type userJSON struct {
	PK       int64  `json:"pk"`
	Username string `json:"username"`
}

type commentJSON struct {
	PK      int64    `json:"pk"`
	Text    string   `json:"text"`
	UserID  int64    `json:"user_id"`
	User    userJSON `json:"user"`
	Created int64    `json:"created_at"`
}

// spamCheck records an action request of kind and writes the feedback response when
// the kind has hit its threshold.
func (s *Server) spamCheck(w http.ResponseWriter, kind string) bool {
	s.mu.Lock()
	s.requests[kind]++
	limit, ok := s.opts.FeedbackAfter[kind]
	hit := ok && s.done[kind] >= limit
	s.mu.Unlock()

	if hit {
		writeJSON(w, http.StatusBadRequest, FeedbackResponse)
	}
	return hit
}

func (s *Server) succeeded(kind string) {
	s.mu.Lock()
	s.done[kind]++
	s.mu.Unlock()
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"status": "fail", "message": msg})
}

func (s *Server) handleAPILogin(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok || u.Password != password {
		fail(w, http.StatusBadRequest, "The password you entered is incorrect.")
		return
	}

	s.startSession(w, u.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"logged_in_user": userJSON{PK: u.ID, Username: u.Username},
	})
}

func (s *Server) handleGetComments(w http.ResponseWriter, r *http.Request, _ *User) {
	mediaID := r.PathValue("id")

	s.mu.Lock()
	out := make([]commentJSON, 0, len(s.comments[mediaID]))
	for _, c := range s.comments[mediaID] {
		author := s.usersByID[c.UserID]
		cj := commentJSON{PK: c.ID, Text: c.Text, UserID: c.UserID, Created: c.CreatedAt.Unix()}
		if author != nil {
			cj.User = userJSON{PK: author.ID, Username: author.Username}
		}
		out = append(out, cj)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"comment_count":     len(out),
		"comments":          out,
		"has_more_comments": false,
	})
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request, user *User) {
	if s.spamCheck(w, "comment") {
		return
	}
	mediaID := r.PathValue("id")
	text := r.FormValue("comment_text")
	if text == "" {
		fail(w, http.StatusBadRequest, "comment_text is required")
		return
	}

	var replyTo int64
	if v := r.FormValue("replied_to_comment_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fail(w, http.StatusBadRequest, "invalid replied_to_comment_id")
			return
		}
		replyTo = id
	}

	s.mu.Lock()
	c := s.addCommentLocked(mediaID, user.ID, text, replyTo)
	s.mu.Unlock()
	s.succeeded("comment")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"comment": commentJSON{PK: c.ID, Text: c.Text, UserID: user.ID, User: userJSON{PK: user.ID, Username: user.Username}},
	})
}

func (s *Server) handleLike(like bool) authedHandler {
	kind := "like"
	if !like {
		kind = "unlike"
	}
	return func(w http.ResponseWriter, r *http.Request, user *User) {
		if s.spamCheck(w, kind) {
			return
		}
		mediaID := r.PathValue("id")

		s.mu.Lock()
		if s.likes[mediaID] == nil {
			s.likes[mediaID] = make(map[int64]bool)
		}
		if like {
			s.likes[mediaID][user.ID] = true
		} else {
			delete(s.likes[mediaID], user.ID)
		}
		s.mu.Unlock()
		s.succeeded(kind)

		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	}
}

func (s *Server) handleFollow(follow bool) authedHandler {
	kind := "follow"
	if !follow {
		kind = "unfollow"
	}
	return func(w http.ResponseWriter, r *http.Request, user *User) {
		if s.spamCheck(w, kind) {
			return
		}
		target, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			fail(w, http.StatusBadRequest, "invalid user id")
			return
		}

		s.mu.Lock()
		_, exists := s.usersByID[target]
		if exists {
			if s.follows[user.ID] == nil {
				s.follows[user.ID] = make(map[int64]bool)
			}
			if follow {
				s.follows[user.ID][target] = true
			} else {
				delete(s.follows[user.ID], target)
			}
		}
		s.mu.Unlock()

		if !exists {
			fail(w, http.StatusNotFound, "User not found")
			return
		}
		s.succeeded(kind)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"friendship_status": map[string]bool{"following": follow},
		})
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, user *User) {
	if s.spamCheck(w, "message") {
		return
	}
	to := r.FormValue("recipient_users")
	text := r.FormValue("text")
	if to == "" || text == "" {
		fail(w, http.StatusBadRequest, "recipient_users and text are required")
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, Message{From: user.ID, To: to, Text: text})
	s.mu.Unlock()
	s.succeeded("message")

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleUsernameInfo(w http.ResponseWriter, r *http.Request, _ *User) {
	username := r.PathValue("username")

	s.mu.Lock()
	u, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		fail(w, http.StatusNotFound, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"user":   userJSON{PK: u.ID, Username: u.Username},
	})
}
