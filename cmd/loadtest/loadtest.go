// Command loadtest opens many websocket sessions against a backend and sends
// messages at a fixed rate for a while.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/johndosdos/chatter-sync/internal/api"
	"github.com/johndosdos/chatter-sync/internal/broker"
	"github.com/johndosdos/chatter-sync/internal/config"
	"github.com/johndosdos/chatter-sync/internal/envelope"
	"github.com/johndosdos/chatter-sync/internal/model"
	ws "github.com/johndosdos/chatter-sync/internal/websocket"
)

var (
	flagClients  int
	flagDuration time.Duration
	flagRate     float64
	flagChat     string
	flagEmail    string
	flagPassword string
)

type stats struct {
	connected atomic.Int64
	failed    atomic.Int64
	sent      atomic.Int64
	received  atomic.Int64
	sendErrs  atomic.Int64
}

var rootCmd = &cobra.Command{
	Use:          "loadtest",
	Short:        "Open N sessions and send messages for a duration",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.IntVar(&flagClients, "clients", 10, "number of concurrent connections")
	f.DurationVar(&flagDuration, "duration", 30*time.Second, "how long to run")
	f.Float64Var(&flagRate, "rate", 1, "messages per second per client")
	f.StringVar(&flagChat, "chat", "", "chat id to post into")
	f.StringVar(&flagEmail, "email", "", "account email")
	f.StringVar(&flagPassword, "password", os.Getenv("CHATTER_PASSWORD"), "account password (env CHATTER_PASSWORD)")
	_ = rootCmd.MarkFlagRequired("email")
	_ = rootCmd.MarkFlagRequired("chat")
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("loadtest: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	client := api.New(cfg.APIURL, nil)
	res, err := client.Login(cmd.Context(), flagEmail, flagPassword)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagDuration)
	defer cancel()

	var st stats
	var wg sync.WaitGroup
	started := time.Now()

	for i := range flagClients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session(ctx, cfg, ws.Credentials{Token: res.Token, UserID: res.User.ID}, i, &st)
		}()
	}
	wg.Wait()

	elapsed := time.Since(started).Round(time.Millisecond)
	fmt.Printf("clients=%d connected=%d failed=%d sent=%d send_errors=%d received=%d elapsed=%s\n",
		flagClients, st.connected.Load(), st.failed.Load(), st.sent.Load(), st.sendErrs.Load(), st.received.Load(), elapsed)
	return nil
}

func session(ctx context.Context, cfg config.Config, creds ws.Credentials, n int, st *stats) {
	m := ws.NewManager(cfg.WSURL, ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MinBackoff:        cfg.ReconnectMin,
		MaxBackoff:        cfg.ReconnectMax,
		StableWindow:      cfg.ReconnectStable,
	}, nil)
	m.OnEvent(broker.EventNewMessage, func(string, json.RawMessage) {
		st.received.Add(1)
	})

	if err := m.Connect(ctx, creds); err != nil {
		st.failed.Add(1)
		slog.Warn("client failed to connect", "client", n, "error", err)
		return
	}
	st.connected.Add(1)
	defer m.Close()

	if err := m.Send(broker.CmdJoinChat, flagChat); err != nil {
		slog.Warn("failed to join chat", "client", n, "error", err)
	}

	lim := rate.NewLimiter(rate.Limit(flagRate), 1)
	for seq := 0; ; seq++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		err := m.Send(broker.CmdSendMessage, model.SendMessage{
			ChatID:      flagChat,
			Content:     envelope.Encode(fmt.Sprintf("load %d/%d", n, seq)),
			Type:        model.MessageText,
			IsEncrypted: true,
			TempID:      "tmp-" + uuid.NewString(),
		})
		if err != nil {
			st.sendErrs.Add(1)
			slog.Debug("send failed", "client", n, "error", err)
			continue
		}
		st.sent.Add(1)
	}
}
