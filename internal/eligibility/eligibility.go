// Package eligibility decides whether a comment or reply should be posted at all,
// before any quota is spent on it.
package eligibility

import (
	"context"
	"regexp"

	"github.com/user/autoengage/internal/logging"
)

// Comment is one entry of a media's comment thread.
type Comment struct {
	ID             string
	AuthorID       string
	AuthorUsername string
	Text           string
}

// Thread is a media's comments in the order the platform returns them.
type Thread []Comment

// UserResolver looks up the user id for a username.
type UserResolver interface {
	ResolveUsername(ctx context.Context, username string) (id string, found bool, err error)
}

// AlreadyCommented reports whether actorID authored any comment in thread.
func AlreadyCommented(thread Thread, actorID string) bool {
	for _, c := range thread {
		if c.AuthorID == actorID {
			return true
		}
	}
	return false
}

func HasAnyComments(thread Thread) bool {
	return len(thread) > 0
}

// Reasons a reply target does not resolve.
const (
	ReasonNoMention  = "reply must start with @username"
	ReasonNotFound   = "mentioned user not found"
	ReasonLookup     = "mentioned user lookup failed"
	ReasonSelfReply  = "cannot reply to yourself"
	ReasonNoComments = "thread has no comment to reply to"
)

// ReplyTarget is the outcome of ResolveReplyTarget.
type ReplyTarget struct {
	Resolvable      bool
	ParentCommentID string
	MentionedUserID string
	Username        string
	Reason          string
}

var mentionRe = regexp.MustCompile(`^@([A-Za-z0-9._]+)`)

// Mention returns the username of the leading @mention in text, if any.
func Mention(text string) (string, bool) {
	m := mentionRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type Evaluator struct {
	Users UserResolver
}

func New(users UserResolver) *Evaluator {
	return &Evaluator{Users: users}
}

// ResolveReplyTarget finds who a reply addresses. The reply is parented to the first
// comment of thread and must mention someone other than actorID.
func (e *Evaluator) ResolveReplyTarget(ctx context.Context, thread Thread, text, actorID string) ReplyTarget {
	username, ok := Mention(text)
	if !ok {
		return ReplyTarget{Reason: ReasonNoMention}
	}

	id, found, err := e.Users.ResolveUsername(ctx, username)
	if err != nil {
		logging.Logger.Warnf("failed to resolve @%s: %v", username, err)
		return ReplyTarget{Username: username, Reason: ReasonLookup}
	}
	if !found || id == "" {
		return ReplyTarget{Username: username, Reason: ReasonNotFound}
	}
	if id == actorID {
		return ReplyTarget{Username: username, MentionedUserID: id, Reason: ReasonSelfReply}
	}
	if len(thread) == 0 {
		return ReplyTarget{Username: username, MentionedUserID: id, Reason: ReasonNoComments}
	}

	return ReplyTarget{
		Resolvable:      true,
		ParentCommentID: thread[0].ID,
		MentionedUserID: id,
		Username:        username,
	}
}
