package inboxclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/seabreeze-yc/clubinbox/pkg/inboxclient"
	"github.com/seabreeze-yc/clubinbox/pkg/scope"
)

func TestWatchFromOutsideThePackage(t *testing.T) {
	sent := time.Date(2030, 5, 1, 9, 0, 0, 0, time.UTC)
	welcome := inboxclient.ChatMessage{
		ID:             uuid.New(),
		ConversationID: "user_42_admin",
		SenderID:       "s-1",
		Content:        "Welcome aboard",
		CreatedAt:      sent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(scope.MessagesPath("user_42_admin"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []inboxclient.ChatMessage{welcome},
			"as_of":    sent.Add(time.Second),
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := inboxclient.New(
		inboxclient.Config{BaseURL: server.URL, Token: "token"},
		inboxclient.Principal{UserID: "42", Role: "member"},
	)

	threads := make(chan []inboxclient.ChatMessage, 4)
	defer client.WatchMessages("", func(view []inboxclient.ChatMessage) { threads <- view })()

	select {
	case view := <-threads:
		if len(view) != 1 || view[0].ID != welcome.ID || view[0].Content != "Welcome aboard" {
			t.Fatalf("unexpected thread %+v", view)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("thread never arrived")
	}
}
