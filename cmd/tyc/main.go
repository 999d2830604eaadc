package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cl "tycoon/internal/cli"
	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "tyc",
		Short:        "Bitcoin Tycoon terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newProfileCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newFarmsCmd(&apiBase),
		newMarketCmd(&apiBase),
		newQuestsCmd(&apiBase),
		newSyndicateCmd(&apiBase),
		newHeistCmd(&apiBase),
		newPrisonCmd(&apiBase),
		newDarkwebCmd(&apiBase),
		newNeonCmd(&apiBase),
		newArenaCmd(&apiBase),
		newSyncCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func openQueue() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.New(dir), nil
}

// withSession runs fn with the saved session and a request deadline. An
// access token close to expiry is refreshed first.
func withSession(cmd *cobra.Command, apiBase *string, fn func(ctx context.Context, client *cl.Client, sess cl.Session) error) error {
	sess, err := cl.LoadSession()
	if err != nil {
		return fmt.Errorf("login required: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	client := newClient(apiBase)
	if sess.NeedsRefresh(time.Now()) {
		sess, err = refreshSession(ctx, client, sess)
		if err != nil {
			return err
		}
	}
	return fn(ctx, client, sess)
}

// refreshSession trades the refresh token for a new session. Offline, the
// old session is kept so writes can still be queued.
func refreshSession(ctx context.Context, client *cl.Client, sess cl.Session) (cl.Session, error) {
	next, err := client.Refresh(ctx, sess.RefreshToken)
	switch {
	case err == nil:
		fresh := cl.SessionFrom(next, time.Now())
		if err := cl.SaveSession(fresh); err != nil {
			return sess, err
		}
		return fresh, nil
	case cl.IsNetworkError(err):
		return sess, nil
	default:
		return sess, fmt.Errorf("session expired, run `tyc login`: %w", err)
	}
}

// submit sends a write. When the API cannot be reached the write is queued
// with its idempotency key for `tyc sync`.
func submit(cmd *cobra.Command, apiBase *string, q syncq.Command, render func(map[string]any) error) error {
	return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
		if q.IdempotencyKey == "" {
			q.IdempotencyKey = uuid.NewString()
		}
		out, err := client.Do(ctx, q.Method, q.Path, sess.AccessToken, q.Body, q.IdempotencyKey)
		if err != nil {
			return queueOnNetworkError(err, q)
		}
		if render == nil {
			return nil
		}
		return render(out)
	})
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if !cl.IsNetworkError(err) {
		return err
	}
	queue, qerr := openQueue()
	if qerr != nil {
		return fmt.Errorf("%w (offline queue unavailable: %v)", err, qerr)
	}
	if perr := queue.Push(q); perr != nil {
		return fmt.Errorf("%w (could not queue: %v)", err, perr)
	}
	printWarn(fmt.Sprintf("API unreachable. Queued %s; run `tyc sync` once you are back online.", describe(q)))
	return nil
}

func describe(q syncq.Command) string {
	if q.Description != "" {
		return q.Description
	}
	return q.Method + " " + q.Path
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a Bitcoin Tycoon account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			nickname, err := promptOptional("Nickname (optional)")
			if err != nil {
				return err
			}
			if nickname != "" {
				if err := game.ValidateNickname(nickname); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, nickname)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `tyc login`.")
				return nil
			}
			if err := cl.SaveSession(cl.SessionFrom(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to Bitcoin Tycoon",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.SessionFrom(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show your dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, client *cl.Client, sess cl.Session) error {
				out, err := client.Dashboard(ctx, sess.AccessToken)
				if err != nil {
					return err
				}
				renderDashboard(out)
				return nil
			})
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := openQueue()
			if err != nil {
				return err
			}
			pending, err := queue.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}

			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			res, err := queue.Replay(ctx, func(ctx context.Context, q syncq.Command) error {
				_, err := client.Do(ctx, q.Method, q.Path, sess.AccessToken, q.Body, q.IdempotencyKey)
				return err
			}, cl.IsNetworkError, cl.IsDuplicate)
			if err != nil {
				return err
			}
			for _, f := range res.Failed {
				printError(fmt.Sprintf("Sync failed for %s: %v", describe(f.Command), f.Err))
			}
			msg := fmt.Sprintf("Sync complete: replayed=%d already-applied=%d remaining=%d", res.Replayed, res.Duplicate, res.Remaining)
			if res.Remaining > 0 {
				printWarn(msg)
				return nil
			}
			printSuccess(msg)
			return nil
		},
	}
}

func newWatchCmd(apiBase *string) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:       "watch <topic>",
		Short:     "Stream live changes (" + strings.Join(game.WatchTopics, ", ") + ")",
		Args:      cobra.ExactArgs(1),
		ValidArgs: game.WatchTopics,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			topic := strings.TrimSpace(args[0])
			printInfo(fmt.Sprintf("Watching %s. Press Ctrl+C to stop.", topic))
			err = newClient(apiBase).Watch(cmd.Context(), sess.AccessToken, topic, func(ev cl.StreamEvent) error {
				stamp := muted.Sprint(time.Now().Format("15:04:05"))
				if ev.Deleted {
					fmt.Printf("%s %s %s\n", stamp, danger.Sprint("deleted"), ev.Key)
					return nil
				}
				if raw {
					fmt.Printf("%s %s v%d %s\n", stamp, accent.Sprint(ev.Key), ev.Version, string(ev.Value))
					return nil
				}
				fmt.Printf("%s %s v%d %s\n", stamp, accent.Sprint(ev.Key), ev.Version, summarize(ev.Value))
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print full JSON documents")
	return cmd
}

// summarize picks a few headline fields out of a changed document.
func summarize(value json.RawMessage) string {
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		return truncate(string(value), 80)
	}
	keys := []string{"price", "btc_balance", "usd_balance", "status", "stage", "progress", "message", "neon_level", "shadow_threat_level"}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	if len(parts) == 0 {
		return truncate(string(value), 80)
	}
	return strings.Join(parts, " ")
}
