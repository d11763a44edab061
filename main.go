// Package main is the command line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/johndosdos/chatter-sync/internal/api"
	"github.com/johndosdos/chatter-sync/internal/app"
	"github.com/johndosdos/chatter-sync/internal/config"
	"github.com/johndosdos/chatter-sync/internal/engine"
	"github.com/johndosdos/chatter-sync/internal/envelope"
	"github.com/johndosdos/chatter-sync/internal/errs"
	"github.com/johndosdos/chatter-sync/internal/model"
	"github.com/johndosdos/chatter-sync/internal/session"
)

var (
	flagDebug    bool
	flagEmail    string
	flagPassword string
	flagUsername string
	flagFullName string
	flagChat     string
)

var rootCmd = &cobra.Command{
	Use:           "chatter",
	Short:         "Terminal client for the chatter backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagDebug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	loginCmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&flagPassword, "password", os.Getenv("CHATTER_PASSWORD"), "account password (env CHATTER_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("email")

	registerCmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&flagPassword, "password", os.Getenv("CHATTER_PASSWORD"), "account password (env CHATTER_PASSWORD)")
	registerCmd.Flags().StringVar(&flagUsername, "username", "", "handle")
	registerCmd.Flags().StringVar(&flagFullName, "full-name", "", "display name")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("username")

	sendCmd.Flags().StringVar(&flagChat, "chat", "", "chat id")
	_ = sendCmd.MarkFlagRequired("chat")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, renameCmd, chatsCmd, tailCmd, sendCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errs.ErrAuth) {
			log.Printf("%v (run `chatter login`)", err)
		} else {
			log.Printf("%v", err)
		}
		os.Exit(1)
	}
}

// withApp opens the session store and runs fn with an App built on it.
func withApp(fn func(a *app.App) error) error {
	cfg := config.Load()
	store, err := session.Open(cfg.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	a := app.New(cfg, store, nil)
	defer a.Close()
	return fn(a)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			u, err := a.Login(cmd.Context(), flagEmail, flagPassword)
			if err != nil {
				return err
			}
			fmt.Printf("logged in as %s (@%s)\n", u.DisplayName, u.Handle)
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and log into it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			u, err := a.Register(cmd.Context(), api.RegisterParams{
				Email:    flagEmail,
				Password: flagPassword,
				Username: flagUsername,
				FullName: flagFullName,
			})
			if err != nil {
				return err
			}
			fmt.Printf("registered %s (@%s)\n", u.DisplayName, u.Handle)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error { return a.Logout() })
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the logged in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			u, err := a.Restore(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s\t@%s\t%s\n", u.ID, u.Handle, u.DisplayName)
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <username>",
	Short: "Change your handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			if _, err := a.Restore(cmd.Context()); err != nil {
				return err
			}
			u, err := a.UpdateUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("now @%s\n", u.Handle)
			return nil
		})
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			if _, err := a.Restore(cmd.Context()); err != nil {
				return err
			}
			chats, err := a.API().Chats(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "ID\tTYPE\tNAME\tUNREAD\tLAST")
			for _, c := range chats {
				last := ""
				if c.LastMessage != nil {
					last = engine.Text(*c.LastMessage)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Kind, c.DisplayName, c.UnreadCount, last)
			}
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Post a message over REST",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return errs.ErrBlankMessage
		}
		return withApp(func(a *app.App) error {
			if _, err := a.Restore(cmd.Context()); err != nil {
				return err
			}
			m, err := a.API().PostMessage(cmd.Context(), model.SendMessage{
				ChatID:      flagChat,
				Content:     envelope.Encode(text),
				Type:        model.MessageText,
				IsEncrypted: true,
				TempID:      "tmp-" + uuid.NewString(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", m.ID)
			return nil
		})
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail [chat id]",
	Short: "Connect and print live events, optionally following one chat",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withApp(func(a *app.App) error {
			if _, err := a.Restore(ctx); err != nil {
				return err
			}
			s, err := a.Connect(ctx)
			if err != nil {
				return err
			}

			var follow string
			if len(args) == 1 {
				follow = args[0]
			}
			t := &tailer{eng: s.Engine, follow: follow, seen: make(map[string]bool)}

			for {
				select {
				case <-ctx.Done():
					return nil
				case c, ok := <-s.Changes:
					if !ok {
						return nil
					}
					t.handle(c)
					if c.Kind == engine.StatusChanged {
						if err := s.Err(); err != nil {
							return err
						}
					}
				}
			}
		})
	},
}

type tailer struct {
	eng    *engine.Engine
	follow string
	joined bool
	seen   map[string]bool
}

func (t *tailer) handle(c engine.Change) {
	switch c.Kind {
	case engine.StatusChanged:
		fmt.Printf("-- %s\n", t.eng.Status())

	case engine.ChatsChanged:
		if t.follow == "" || t.joined {
			return
		}
		if _, ok := t.eng.Chat(t.follow); !ok {
			return
		}
		if err := t.eng.SelectChat(t.follow); err != nil {
			slog.Warn("failed to select chat", "chat", t.follow, "error", err)
			return
		}
		t.joined = true

	case engine.MessagesChanged:
		if t.follow == "" || c.ChatID != t.eng.Selected() {
			return
		}
		for _, m := range t.eng.Messages(c.ChatID) {
			if t.seen[m.ID] || m.Delivery != model.Confirmed {
				continue
			}
			t.seen[m.ID] = true
			fmt.Printf("[%s] %s: %s\n", m.SentAt.Local().Format(time.Kitchen), m.SenderName, engine.Text(m))
		}

	case engine.TypingChanged:
		if t.follow == "" {
			return
		}
		if names := t.eng.TypingNames(t.follow); len(names) > 0 {
			fmt.Printf("-- %s typing\n", strings.Join(names, ", "))
		}

	case engine.ErrorReceived:
		fmt.Printf("!! %s\n", t.eng.LastError())
	}
}
