package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	cli "github.com/urfave/cli/v2"
	"github.com/user/autoengage/internal/action"
	"github.com/user/autoengage/internal/logging"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:  "autoengage",
		Usage: "throttled engagement bot with feedback circuit breaker",
	}

	app.Commands = []*cli.Command{
		commentCmd,
		replyCmd,
		likeCmd,
		followCmd,
		unfollowCmd,
		statusCmd,
		clearCmd,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()

	return app.RunContext(ctx, args)
}

var commentCmd = &cli.Command{
	Name:      "comment",
	Usage:     "comment media with a random text per media",
	ArgsUsage: "<media-id>...",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "text",
			Aliases:  []string{"t"},
			Usage:    "comment text, repeat for a random pick",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		ids := cctx.Args().Slice()
		if len(ids) == 0 {
			return fmt.Errorf("at least one media id is required")
		}
		rt, err := setup(cctx.Context, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		failed := rt.bot.CommentMedias(cctx.Context, ids, cctx.StringSlice("text"))
		return reportFailed("comment", ids, failed)
	},
}

var replyCmd = &cli.Command{
	Name:      "reply",
	Usage:     "reply to the first comment of a media; text must start with @username",
	ArgsUsage: "<media-id> <text>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return fmt.Errorf("expected a media id and a reply text")
		}
		rt, err := setup(cctx.Context, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		mediaID := cctx.Args().Get(0)
		if !rt.bot.ReplyToComment(cctx.Context, mediaID, cctx.Args().Get(1)) {
			return fmt.Errorf("reply on %s was not posted", mediaID)
		}
		fmt.Printf("replied on %s\n", mediaID)
		return nil
	},
}

var likeCmd = &cli.Command{
	Name:      "like",
	Usage:     "like media",
	ArgsUsage: "<media-id>...",
	Action: func(cctx *cli.Context) error {
		ids := cctx.Args().Slice()
		if len(ids) == 0 {
			return fmt.Errorf("at least one media id is required")
		}
		rt, err := setup(cctx.Context, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		return reportFailed("like", ids, rt.bot.LikeMedias(cctx.Context, ids))
	},
}

var followCmd = &cli.Command{
	Name:      "follow",
	Usage:     "follow users by id",
	ArgsUsage: "<user-id>...",
	Action: func(cctx *cli.Context) error {
		return eachUser(cctx, "follow", func(rt *runtime, id string) bool {
			return rt.bot.Follow(cctx.Context, id)
		})
	},
}

var unfollowCmd = &cli.Command{
	Name:      "unfollow",
	Usage:     "unfollow users by id",
	ArgsUsage: "<user-id>...",
	Action: func(cctx *cli.Context) error {
		return eachUser(cctx, "unfollow", func(rt *runtime, id string) bool {
			return rt.bot.Unfollow(cctx.Context, id)
		})
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "show quota usage and blocked action types",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "activity",
			Usage: "also show this many recent activity log entries",
		},
	},
	Action: func(cctx *cli.Context) error {
		rt, err := setup(cctx.Context, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tUSED\tLIMIT\tWINDOW START\tBLOCKED")
		for _, st := range rt.gate.Status() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", st.Type, st.Count, rt.quota.Limit(st.Type), formatTime(st.WindowStart), blockedColumn(st))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if n := cctx.Int("activity"); n > 0 {
			if rt.sqlite == nil {
				return fmt.Errorf("activity log needs the sqlite state backend")
			}
			entries, err := rt.sqlite.RecentActivity(n)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, a := range entries {
				fmt.Printf("%s  %-8s %s\n", a.Time.Format(time.DateTime), a.Kind, a.Metadata)
			}
		}
		return nil
	},
}

var clearCmd = &cli.Command{
	Name:      "clear",
	Usage:     "lift the feedback block on action types",
	ArgsUsage: "<type>... (all types when omitted)",
	Action: func(cctx *cli.Context) error {
		var types []action.Type
		for _, arg := range cctx.Args().Slice() {
			typ, err := action.Parse(arg)
			if err != nil {
				return err
			}
			types = append(types, typ)
		}

		rt, err := setup(cctx.Context, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		if len(types) == 0 {
			rt.gate.ClearAll(cctx.Context)
			fmt.Println("cleared all action types")
			return nil
		}
		for _, typ := range types {
			rt.gate.Clear(cctx.Context, typ)
		}
		fmt.Printf("cleared %s\n", joinTypes(types))
		return nil
	},
}

func eachUser(cctx *cli.Context, verb string, do func(rt *runtime, id string) bool) error {
	ids := cctx.Args().Slice()
	if len(ids) == 0 {
		return fmt.Errorf("at least one user id is required")
	}
	rt, err := setup(cctx.Context, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	var failed []string
	for _, id := range ids {
		if !do(rt, id) {
			failed = append(failed, id)
		}
	}
	return reportFailed(verb, ids, failed)
}

func reportFailed(verb string, all, failed []string) error {
	fmt.Printf("%s: %d of %d done\n", verb, len(all)-len(failed), len(all))
	if len(failed) > 0 {
		return fmt.Errorf("%s failed for %s", verb, strings.Join(failed, ", "))
	}
	return nil
}

func blockedColumn(st action.State) string {
	if !st.Blocked {
		return "no"
	}
	out := "since " + formatTime(st.BlockedSince)
	if !st.BlockedUntil.IsZero() {
		out += " until " + formatTime(st.BlockedUntil)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func joinTypes(types []action.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
