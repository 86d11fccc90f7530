package actiondispatcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/vms-watch/internal/actiondispatcher"
)

func TestDispatch_UnregisteredVerbFallsBackToPrint(t *testing.T) {
	r := actiondispatcher.New(actiondispatcher.Credentials{}, nil, 0)
	err := r.Dispatch(context.Background(), "a raccoon is on the porch")
	require.NoError(t, err)
}

func TestDispatch_DoorAndLightAreMockedSuccess(t *testing.T) {
	r := actiondispatcher.New(actiondispatcher.Credentials{}, nil, 0)
	require.NoError(t, r.Dispatch(context.Background(), "open_door front"))
	require.NoError(t, r.Dispatch(context.Background(), "turn_on_light porch"))
}

func TestDispatch_DiscordPostsToWebhook(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		buf := make([]byte, req.ContentLength)
		_, _ = req.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := actiondispatcher.New(actiondispatcher.Credentials{DiscordHook: srv.URL}, srv.Client(), 0)
	require.NoError(t, r.Dispatch(context.Background(), "send_discord_notification motion detected"))
	require.Contains(t, gotBody, "motion detected")
}

func TestDispatch_TelegramMissingCredsReturnsGracefully(t *testing.T) {
	r := actiondispatcher.New(actiondispatcher.Credentials{}, nil, 0)
	require.NoError(t, r.Dispatch(context.Background(), "send_telegram_notification hello"))
}

func TestDispatch_SuppressesDuplicateWithinWindow(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := actiondispatcher.New(actiondispatcher.Credentials{DiscordHook: srv.URL}, srv.Client(), time.Minute)
	ctx := context.Background()
	require.NoError(t, r.Dispatch(ctx, "send_discord_notification motion"))
	require.NoError(t, r.Dispatch(ctx, "send_discord_notification motion"))
	require.Equal(t, 1, calls)
}
