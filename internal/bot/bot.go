package bot

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/eligibility"
	"github.com/user/autoengage/internal/gate"
	"github.com/user/autoengage/internal/logging"
	"github.com/user/autoengage/internal/platform"
)

// ThreadReader fetches a media's comment thread.
type ThreadReader interface {
	Comments(ctx context.Context, mediaID string) (eligibility.Thread, error)
}

// ActivityLog records a human readable trail of what the bot did.
type ActivityLog interface {
	LogActivity(actionType, metadata string) error
}

type Service struct {
	Gate    *gate.Gate
	Threads ThreadReader
	Eval    *eligibility.Evaluator
	Log     ActivityLog
	ActorID string
}

func New(g *gate.Gate, threads ThreadReader, eval *eligibility.Evaluator, log ActivityLog, actorID string) *Service {
	if log == nil {
		log = nopLog{}
	}
	return &Service{Gate: g, Threads: threads, Eval: eval, Log: log, ActorID: actorID}
}

// Comment posts text on mediaID unless the account already commented there.
func (s *Service) Comment(ctx context.Context, mediaID, text string) bool {
	thread, err := s.Threads.Comments(ctx, mediaID)
	if err != nil {
		logging.Logger.Errorf("cannot check comments of %s: %v", mediaID, err)
		s.activity("Failed", "Reading comments of %s: %v", mediaID, err)
		return false
	}
	if eligibility.AlreadyCommented(thread, s.ActorID) {
		logging.Logger.Infof("already commented on %s, skipping", mediaID)
		return true
	}

	s.activity("Action", "Commenting on %s", mediaID)
	ok := s.Gate.Attempt(ctx, action.Request{
		Type:    action.Comment,
		Target:  mediaID,
		Payload: map[string]string{platform.KeyCommentText: text},
	})
	s.outcome(ok, "Commented on %s", mediaID)
	return ok
}

// ReplyToComment answers the first comment of mediaID. text must open with a mention
// of an existing user other than the account itself.
func (s *Service) ReplyToComment(ctx context.Context, mediaID, text string) bool {
	thread, err := s.Threads.Comments(ctx, mediaID)
	if err != nil {
		logging.Logger.Errorf("cannot check comments of %s: %v", mediaID, err)
		s.activity("Failed", "Reading comments of %s: %v", mediaID, err)
		return false
	}

	target := s.Eval.ResolveReplyTarget(ctx, thread, text, s.ActorID)
	if !target.Resolvable {
		logging.Logger.Infof("not replying on %s: %s", mediaID, target.Reason)
		s.activity("Skipped", "Reply on %s: %s", mediaID, target.Reason)
		return false
	}

	s.activity("Action", "Replying to @%s on %s", target.Username, mediaID)
	ok := s.Gate.Attempt(ctx, action.Request{
		Type:   action.Reply,
		Target: mediaID,
		Payload: map[string]string{
			platform.KeyCommentText: text,
			platform.KeyReplyTo:     target.ParentCommentID,
		},
	})
	s.outcome(ok, "Replied to @%s on %s", target.Username, mediaID)
	return ok
}

func (s *Service) IsCommented(ctx context.Context, mediaID string) (bool, error) {
	thread, err := s.Threads.Comments(ctx, mediaID)
	if err != nil {
		return false, err
	}
	return eligibility.AlreadyCommented(thread, s.ActorID), nil
}

func (s *Service) HasComments(ctx context.Context, mediaID string) (bool, error) {
	thread, err := s.Threads.Comments(ctx, mediaID)
	if err != nil {
		return false, err
	}
	return eligibility.HasAnyComments(thread), nil
}

// CommentMedias comments every media with a random text from texts and returns the
// ids that were not commented. Once comments are blocked or out of quota the
// remaining ids are returned without being tried.
func (s *Service) CommentMedias(ctx context.Context, mediaIDs, texts []string) []string {
	if len(texts) == 0 {
		logging.Logger.Warn("no comment texts given")
		return append([]string(nil), mediaIDs...)
	}

	var failed []string
	for i, id := range mediaIDs {
		if s.stopped(ctx, action.Comment) {
			logging.Logger.Warnf("stopping comments with %d media left", len(mediaIDs)-i)
			return append(failed, mediaIDs[i:]...)
		}
		if !s.Comment(ctx, id, texts[rand.Intn(len(texts))]) {
			failed = append(failed, id)
		}
	}
	logging.Logger.Infof("commented %d of %d media", len(mediaIDs)-len(failed), len(mediaIDs))
	return failed
}

func (s *Service) Like(ctx context.Context, mediaID string) bool {
	s.activity("Action", "Liking %s", mediaID)
	ok := s.Gate.Attempt(ctx, action.Request{Type: action.Like, Target: mediaID})
	s.outcome(ok, "Liked %s", mediaID)
	return ok
}

// LikeMedias likes each media and returns the ids that were not liked.
func (s *Service) LikeMedias(ctx context.Context, mediaIDs []string) []string {
	var failed []string
	for i, id := range mediaIDs {
		if s.stopped(ctx, action.Like) {
			return append(failed, mediaIDs[i:]...)
		}
		if !s.Like(ctx, id) {
			failed = append(failed, id)
		}
	}
	return failed
}

func (s *Service) Follow(ctx context.Context, userID string) bool {
	s.activity("Action", "Following %s", userID)
	ok := s.Gate.Attempt(ctx, action.Request{Type: action.Follow, Target: userID})
	s.outcome(ok, "Followed %s", userID)
	return ok
}

func (s *Service) Unfollow(ctx context.Context, userID string) bool {
	s.activity("Action", "Unfollowing %s", userID)
	ok := s.Gate.Attempt(ctx, action.Request{Type: action.Unfollow, Target: userID})
	s.outcome(ok, "Unfollowed %s", userID)
	return ok
}

// Message sends a direct message to userID.
func (s *Service) Message(ctx context.Context, userID, text string) bool {
	s.activity("Action", "Messaging %s", userID)
	ok := s.Gate.Attempt(ctx, action.Request{
		Type:    action.Message,
		Target:  userID,
		Payload: map[string]string{platform.KeyText: text},
	})
	s.outcome(ok, "Messaged %s", userID)
	return ok
}

// SendTemplatedMessage fills {{key}} placeholders of tmpl from vars and messages userID.
func (s *Service) SendTemplatedMessage(ctx context.Context, userID, tmpl string, vars map[string]string) bool {
	return s.Message(ctx, userID, Render(tmpl, vars))
}

func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// stopped reports whether no further attempt of typ can succeed in this run.
func (s *Service) stopped(ctx context.Context, typ action.Type) bool {
	return ctx.Err() != nil || s.Gate.Blocked(typ) || s.Gate.Exhausted(typ)
}

func (s *Service) outcome(ok bool, format string, args ...interface{}) {
	if ok {
		s.activity("Success", format, args...)
		return
	}
	s.activity("Failed", format, args...)
}

func (s *Service) activity(kind, format string, args ...interface{}) {
	if err := s.Log.LogActivity(kind, fmt.Sprintf(format, args...)); err != nil {
		logging.Logger.Warnf("failed to write activity log: %v", err)
	}
}

type nopLog struct{}

func (nopLog) LogActivity(string, string) error { return nil }
