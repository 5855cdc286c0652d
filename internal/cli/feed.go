package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cumba2321/classsync/internal/feed"
	"github.com/cumba2321/classsync/internal/model"
	"github.com/cumba2321/classsync/internal/remote"
)

// readyTimeout bounds the wait for the first feed snapshot.
const readyTimeout = 10 * time.Second

// FeedOptions holds flags shared by the feed commands.
type FeedOptions struct {
	*RootOptions
	Collection string
}

// NewFeedCommand creates the feed command group.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Read and write the class wall",
		Long: `Read and write the class wall as the signed-in user.

Every write is shown optimistically, pushed with retries and reported once
the server confirms or rejects it.

Examples:
  classsync feed post "Quiz moved to Friday" --user prof --role instructor
  classsync feed like s1 --user stu1
  classsync feed comment s1 "thanks!" --user stu1
  classsync feed list --comments
  classsync feed watch --metrics :9090`,
	}

	cmd.PersistentFlags().StringVar(&opts.Collection, "collection", remote.DefaultCollection, "feed collection path")

	cmd.AddCommand(newFeedPostCommand(opts))
	cmd.AddCommand(newFeedLikeCommand(opts, "like", true))
	cmd.AddCommand(newFeedLikeCommand(opts, "unlike", false))
	cmd.AddCommand(newFeedCommentCommand(opts))
	cmd.AddCommand(newFeedDeleteCommand(opts))
	cmd.AddCommand(newFeedListCommand(opts))
	cmd.AddCommand(newFeedWatchCommand(opts))

	return cmd
}

// ActionResult is the JSON payload of a confirmed feed write.
type ActionResult struct {
	MutationID string `json:"mutation_id,omitempty"`
	ItemID     string `json:"item_id"`
	Seq        int64  `json:"seq,omitempty"`
}

func newFeedPostCommand(opts *FeedOptions) *cobra.Command {
	var attachments model.Attachments

	cmd := &cobra.Command{
		Use:           "post <body>",
		Short:         "Publish a post",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c *feed.Controller) error {
				receipt, err := c.Post(ctx, model.FeedItem{Body: args[0], Attachments: attachments})
				return opts.report(cmd, "post", receipt, err, "posted %s")
			})
		},
	}

	cmd.Flags().StringSliceVar(&attachments.Images, "image", nil, "image attachment reference (repeatable)")
	cmd.Flags().StringSliceVar(&attachments.Files, "file", nil, "file attachment reference (repeatable)")
	cmd.Flags().StringSliceVar(&attachments.Links, "link", nil, "link attachment (repeatable)")

	return cmd
}

func newFeedLikeCommand(opts *FeedOptions, name string, like bool) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <item-id>",
		Short:         fmt.Sprintf("%s a post as the signed-in user", name),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c *feed.Controller) error {
				receipt, err := c.SetLike(ctx, args[0], like)
				return opts.report(cmd, name, receipt, err, name+"d %s")
			})
		},
	}
}

func newFeedCommentCommand(opts *FeedOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "comment <item-id> <body>",
		Short:         "Comment on a post",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c *feed.Controller) error {
				receipt, err := c.Comment(ctx, args[0], args[1])
				return opts.report(cmd, "comment", receipt, err, "commented %s on "+args[0])
			})
		},
	}
}

func newFeedDeleteCommand(opts *FeedOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <item-id>",
		Short:         "Delete a post (author or instructor only)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c *feed.Controller) error {
				receipt, err := c.Delete(ctx, args[0])
				return opts.report(cmd, "delete", receipt, err, "deleted %s")
			})
		},
	}
}

func newFeedListCommand(opts *FeedOptions) *cobra.Command {
	var comments bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "Print the merged feed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(cmd, func(ctx context.Context, c *feed.Controller) error {
				items := c.Store().View()
				return opts.formatter(cmd).Emit(items, renderItems(items, comments))
			})
		},
	}

	cmd.Flags().BoolVar(&comments, "comments", false, "include comments")
	return cmd
}

func newFeedWatchCommand(opts *FeedOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the feed every time it changes",
		Long: `Print the merged feed every time it changes, and every failed push,
until interrupted. With --metrics the Prometheus metrics are served on
/metrics at that address.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				metricsAddr = opts.Config.MetricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			if metricsAddr != "" {
				shutdown, err := serveMetrics(metricsAddr, opts.Logger)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to serve metrics", err)
				}
				defer shutdown()
			}
			return opts.withController(cmd, func(ctx context.Context, c *feed.Controller) error {
				return watchFeed(ctx, cmd.OutOrStdout(), opts.formatter(cmd), c)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus metrics on, e.g. :9090")
	return cmd
}

// withController starts a controller over the configured backend, waits
// for the first snapshot, runs fn and stops the controller again.
func (opts *FeedOptions) withController(cmd *cobra.Command, fn func(ctx context.Context, c *feed.Controller) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := opts.Config
	controllerOpts := []feed.Option{
		feed.WithLogger(opts.Logger),
		feed.WithRetry(cfg.Retry),
	}
	if cfg.PushTimeout > 0 {
		controllerOpts = append(controllerOpts, feed.WithPushTimeout(cfg.PushTimeout))
	}
	adapter := remote.New(s.backend, remote.WithCollection(opts.Collection), remote.WithLogger(opts.Logger))
	c := feed.NewController(adapter, s.auth, controllerOpts...)

	if err := c.Subscribe(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe to feed", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()
	defer func() {
		c.Stop()
		<-done
	}()

	select {
	case <-c.Ready():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readyTimeout):
		return NewExitError(ExitCommandError, "timed out waiting for the feed snapshot")
	}
	return fn(ctx, c)
}

// report waits for the push result of receipt and prints it.
func (opts *FeedOptions) report(cmd *cobra.Command, action string, receipt feed.Receipt, err error, text string) error {
	f := opts.formatter(cmd)
	if err != nil {
		return f.Fail(action, err)
	}

	f.VerboseLog("recorded %s as %s", action, receipt.MutationID)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ack, err := receipt.Wait(ctx)
	if err != nil {
		return f.Fail(action, err)
	}

	result := ActionResult{MutationID: receipt.MutationID, ItemID: ack.ServerID, Seq: ack.Seq}
	if result.ItemID == "" {
		result.ItemID = receipt.ItemID
	}
	line := fmt.Sprintf(text, result.ItemID)
	if receipt.MutationID == "" {
		line += " (no change)"
	}
	return f.Emit(result, line)
}

func watchFeed(ctx context.Context, w io.Writer, f *OutputFormatter, c *feed.Controller) error {
	updates, cancel := c.Store().Subscribe()
	defer cancel()

	current := c.Store().Current()
	if err := f.Emit(current, fmt.Sprintf("version %d\n%s", current.Version, renderItems(current.Items, true))); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case view, ok := <-updates:
			if !ok {
				return nil
			}
			if err := f.Emit(view, fmt.Sprintf("version %d\n%s", view.Version, renderItems(view.Items, true))); err != nil {
				return err
			}
		case warning := <-c.Warnings():
			if f.Format == "json" {
				_ = f.Error(string(warning.Err.Kind), warning.Err.Error(), warning)
				continue
			}
			fmt.Fprintln(w, warningLine(warning))
		}
	}
}

func warningLine(w feed.Warning) string {
	state := "rolled back"
	if w.Unsynced {
		state = "not synced"
	}
	return fmt.Sprintf("warning: %s %s on %s %s: %v", w.MutationID, w.Kind, w.Target, state, w.Err)
}

func renderItems(items []model.FeedItem, comments bool) string {
	if len(items) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s  %s  likes=%d comments=%d  %s",
			item.ID, item.AuthorDisplayName, item.State, item.LikeCount, item.CommentCount, item.Body)
		if !comments {
			continue
		}
		for _, c := range item.Comments {
			fmt.Fprintf(&b, "\n    %s  %s  %s  %s", c.ID, c.AuthorDisplayName, c.State, c.Body)
		}
	}
	return b.String()
}

// serveMetrics serves the default Prometheus registry until shutdown is called.
func serveMetrics(addr string, logger *slog.Logger) (shutdown func(), err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logger.Info("serving metrics", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
