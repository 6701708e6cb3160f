package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/user/autoengage/internal/fakeplatform"
	"github.com/user/autoengage/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	feedbackComments := flag.Int("feedback-comments", -1, "answer comments with spam feedback after this many (-1 disables)")
	feedbackLikes := flag.Int("feedback-likes", -1, "answer likes with spam feedback after this many (-1 disables)")
	twoFactor := flag.Bool("2fa", true, "route web logins through the arithmetic checkpoint")
	captcha := flag.Bool("captcha", false, "show a captcha on the web login page")
	flag.Parse()

	if err := logging.Init("debug"); err != nil {
		panic(err)
	}
	defer logging.Sync()

	feedback := map[string]int{}
	if *feedbackComments >= 0 {
		feedback["comment"] = *feedbackComments
	}
	if *feedbackLikes >= 0 {
		feedback["like"] = *feedbackLikes
	}

	fake := fakeplatform.New(fakeplatform.Options{
		FeedbackAfter: feedback,
		TwoFactor:     *twoFactor,
		Captcha:       *captcha,
		Logf:          logging.Logger.Infof,
	})
	seed(fake)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fake,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Logger.Infof("simulated platform listening on %s (login admin / password123)", *addr)
	if err := srv.ListenAndServe(); err != nil {
		logging.Logger.Fatalf("server failed: %v", err)
	}
}

// seed creates the demo account, a few other users and media with comment threads.
func seed(fake *fakeplatform.Server) {
	fake.AddUser("admin", "password123")
	alice := fake.AddUser("alice", "alice")
	bob := fake.AddUser("bob", "bob")
	dude := fake.AddUser("dude", "dude")

	fake.AddComment("1001", alice, "Love this view!")
	fake.AddComment("1001", bob, "Where was this taken?")
	fake.AddComment("1002", dude, "first!")
	fake.AddComment("1003", bob, "Great colors")
	fake.AddComment("1003", alice, "@bob agreed")
}
