package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/pkg/httputil"
	"github.com/wonny/aegis-trader/pkg/logger"
)

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestEventText(t *testing.T) {
	e := Event{
		Title:   "Circuit breaker triggered",
		Message: "daily loss -5.2%",
		Fields:  map[string]string{"broker": "UPBIT", "cooldown": "60m"},
	}
	assert.Equal(t, "Circuit breaker triggered\n\ndaily loss -5.2%\n\nbroker: UPBIT\ncooldown: 60m", e.Text())
}

func TestMultiAttemptsAll(t *testing.T) {
	first, second := &failingNotifier{}, &failingNotifier{}
	m := Multi{first, NewLogNotifier(logger.NewNop()), second}

	err := m.Send(context.Background(), Event{Level: LevelCritical, Title: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestTelegramNotifier(t *testing.T) {
	var gotPath, gotChat, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier(httputil.New(logger.NewNop()), "TOKEN", "42").WithBaseURL(server.URL)
	err := n.Send(context.Background(), Event{Level: LevelCritical, Title: "Liquidation", Message: "3/3 closed"})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Contains(t, gotText, "🚨")
	assert.Contains(t, gotText, "3/3 closed")
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	n := NewTelegramNotifier(httputil.New(logger.NewNop()), "bad", "42").WithBaseURL(server.URL)
	assert.Error(t, n.Send(context.Background(), Event{Title: "x"}))
}
