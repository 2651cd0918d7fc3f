package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rtchat/internal/api"
	"github.com/rtchat/internal/client"
	"github.com/rtchat/internal/config"
	"github.com/rtchat/internal/connection"
	"github.com/rtchat/internal/logger"
	"github.com/rtchat/internal/model"
)

const usage = `commands:
  /to <user>       switch conversation
  <text>           send to the current peer
  /history         load the current conversation
  /online          list online users
  /call [video]    call the current peer
  /accept /reject /hangup
  /mute /unmute
  /quit`

func main() {
	logger.SetPrefix("rtcli")
	cfg := config.LoadClient()
	server := flag.String("server", cfg.ServerURL, "relay websocket URL")
	apiURL := flag.String("api", cfg.APIURL, "relay REST base URL")
	user := flag.String("user", "", "identity to log in as")
	token := flag.String("token", "", "bearer token (requested from a dev relay if empty)")
	flag.Parse()
	cfg.ServerURL = *server
	cfg.APIURL = strings.TrimSuffix(*apiURL, "/")
	logger.SetLevel(cfg.LogLevel)

	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *token == "" {
		tctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		t, err := api.DevToken(tctx, cfg.APIURL, *user, nil)
		cancel()
		if err != nil {
			logger.Fatalf("dev token: %v", err)
		}
		*token = t
	}

	c := client.New(cfg, client.Options{Notifier: printer{}, Alerts: printer{}})
	defer c.Close()

	c.OnStatus(func(ch connection.StatusChange) {
		fmt.Printf("* %s\n", ch.Status)
	})
	if err := c.Connect(*user, *token); err != nil {
		logger.Fatalf("connect: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	sh := &shell{c: c, ctx: ctx}
	fmt.Println(usage)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !sh.run(strings.TrimSpace(line)) {
				return
			}
		}
	}
}

type shell struct {
	c    *client.Client
	ctx  context.Context
	peer string
}

// run executes one input line and reports whether the session continues.
func (s *shell) run(line string) bool {
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		s.send(line)
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit":
		return false
	case "/to":
		if arg == "" {
			fmt.Println("usage: /to <user>")
			return true
		}
		s.peer = arg
		_, err = s.c.OpenConversation(arg)
	case "/history":
		if s.needPeer() {
			err = s.history()
		}
	case "/online":
		fmt.Println("online:", strings.Join(s.c.Presence().OnlineIDs(), ", "))
	case "/call":
		if s.needPeer() {
			typ := model.CallTypeAudio
			if arg == "video" {
				typ = model.CallTypeVideo
			}
			err = s.c.StartCall(s.peer, typ)
		}
	case "/accept":
		err = s.c.AcceptCall()
	case "/reject":
		err = s.c.RejectCall()
	case "/hangup":
		err = s.c.EndCall()
	case "/mute":
		err = s.c.SetMuted(true)
	case "/unmute":
		err = s.c.SetMuted(false)
	default:
		fmt.Println(usage)
	}
	if err != nil {
		fmt.Println("error:", err)
	}
	return true
}

func (s *shell) needPeer() bool {
	if s.peer == "" {
		fmt.Println("pick a peer first: /to <user>")
		return false
	}
	return true
}

func (s *shell) send(text string) {
	if !s.needPeer() {
		return
	}
	s.c.StopTyping(s.peer)
	if _, err := s.c.SendMessage(s.peer, text, model.MessageTypeText, ""); err != nil {
		fmt.Println("error:", err)
	}
}

func (s *shell) history() error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	if err := s.c.LoadHistory(ctx, s.peer); err != nil {
		return err
	}
	conv, ok := s.c.Chat().Conversation(model.ConversationID(s.c.Identity(), s.peer))
	if !ok {
		return nil
	}
	for _, m := range conv.Messages {
		fmt.Printf("[%s] %s: %s (%s)\n", time.UnixMilli(m.Timestamp).Format("15:04"), m.SenderID, m.Text, m.Status)
	}
	return s.c.MarkConversationRead(ctx, s.peer)
}

// printer writes inbound messages and ringing to stdout.
type printer struct{}

func (printer) NotifyMessage(m model.Message) {
	fmt.Printf("<%s> %s\n", m.SenderID, m.Text)
}

func (printer) Ring(peerID string, callType model.CallType) {
	fmt.Printf("* %s call from %s (/accept or /reject)\n", callType, peerID)
}

func (printer) StopRinging() {}
