// Command inboxwatch follows a principal's inbox from the terminal. It is the
// reference consumer of pkg/inboxclient and is handy for checking push and
// poll delivery against a running server.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/seabreeze-yc/clubinbox/internal/logging"
	"github.com/seabreeze-yc/clubinbox/pkg/inboxclient"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	_ = godotenv.Load()

	pflag.String("url", "http://localhost:8080", "inbox server base URL")
	pflag.String("token", "", "session token of the principal to follow")
	pflag.String("conversation", "", "thread to follow (staff only; members always follow their own)")
	pflag.String("send", "", "send this message once before watching")
	pflag.Bool("mark-read", false, "mark the followed thread read on start")
	pflag.String("log-level", "info", "log level")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(pflag.CommandLine)

	logger := logging.New("development", v.GetString("log-level"))

	client, err := inboxclient.NewFromToken(inboxclient.Config{
		BaseURL: v.GetString("url"),
		Token:   v.GetString("token"),
	}, inboxclient.WithLogger(logger.WithPrefix("client")))
	if err != nil {
		logger.Fatal("Cannot read token", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := client.Scope()
	thread := v.GetString("conversation")
	if sc.ConversationKey != "" {
		thread = sc.ConversationKey
	}
	logger.Info("Following inbox", "visibility", sc.Visibility, "notifications", sc.NotificationScope, "thread", thread)

	if text := strings.TrimSpace(v.GetString("send")); text != "" && thread != "" {
		if _, err := client.SendMessage(ctx, thread, text); err != nil {
			logger.Error("Send failed", "err", err)
		}
	}
	if v.GetBool("mark-read") && thread != "" {
		read, err := client.MarkConversationRead(ctx, thread)
		if err != nil {
			logger.Error("Mark read failed", "err", err)
		} else {
			logger.Info("Marked read", "messages", read)
		}
	}

	defer client.WatchConversations(func(conversations []inboxclient.ConversationSummary) {
		unread := 0
		for _, conversation := range conversations {
			unread += conversation.UnreadCount
		}
		logger.Info("Conversations", "count", len(conversations), "unread_messages", unread)
	})()

	if thread != "" {
		defer client.WatchMessages(thread, func(messages []inboxclient.ChatMessage) {
			if len(messages) == 0 {
				logger.Info("Thread is empty", "thread", thread)
				return
			}
			last := messages[len(messages)-1]
			logger.Info("Thread", "thread", thread, "messages", len(messages), "last_from", last.SenderID, "last", last.Content)
		})()
	}

	defer client.WatchNotifications(func(notifications []inboxclient.Notification) {
		for _, n := range notifications {
			if !n.Read {
				logger.Info("Unread notification", "type", n.Type, "priority", n.Priority, "title", n.Title)
			}
		}
	})()

	defer client.WatchUnreadCount(func(count inboxclient.UnreadCount) {
		logger.Info("Unread notifications", "scope", count.Scope, "count", count.Count)
	})()

	if err := client.Run(ctx); err != nil {
		logger.Error("Client stopped", "err", err)
	}
}
