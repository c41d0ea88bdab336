package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"contentpilot/internal/content"
	logx "contentpilot/pkg/logx"
)

func TestPermanent(t *testing.T) {
	base := errors.New("bad request")
	err := errors.Wrap(Permanent(base), "publish")
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestRegistryRoutes(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register(content.TypePost, Func(func(ctx context.Context, c content.Content) (content.Publication, error) {
		calls++
		return content.Publication{ProviderID: "x"}, nil
	}))

	p, err := r.Publish(context.Background(), content.Content{ID: "1", Type: content.TypePost})
	require.NoError(t, err)
	assert.Equal(t, "x", p.ProviderID)

	_, err = r.Publish(context.Background(), content.Content{ID: "2", Type: content.TypeReel})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	// already published content is not reposted
	p, err = r.Publish(context.Background(), content.Content{ID: "3", Type: content.TypePost, ProviderID: "old"})
	require.NoError(t, err)
	assert.Equal(t, "old", p.ProviderID)
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]string{"post": "func"}, r.Routes())
}

type fakeTelegram struct {
	sent   []interface{}
	albums []tele.Album
	err    error
}

func (f *fakeTelegram) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, what)
	return &tele.Message{ID: 100 + len(f.sent), Chat: &tele.Chat{Username: "brand"}}, nil
}

func (f *fakeTelegram) SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.albums = append(f.albums, a)
	return []tele.Message{{ID: 7}, {ID: 8}}, nil
}

func TestTelegramPublish(t *testing.T) {
	ctx := context.Background()
	api := &fakeTelegram{}
	tg := NewTelegram(api, -1001234, logx.Nop())

	p, err := tg.Publish(ctx, content.Content{ID: "a", Caption: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "-1001234:101", p.ProviderID)
	assert.Equal(t, "https://t.me/brand/101", p.Permalink)
	assert.Equal(t, "hello", api.sent[0])

	_, err = tg.Publish(ctx, content.Content{ID: "b", MediaURLs: []string{"https://cdn/x.mp4?sig=1"}})
	require.NoError(t, err)
	_, isVideo := api.sent[1].(*tele.Video)
	assert.True(t, isVideo)

	p, err = tg.Publish(ctx, content.Content{ID: "c", MediaURLs: []string{"https://cdn/1.jpg", "https://cdn/2.jpg"}})
	require.NoError(t, err)
	require.Len(t, api.albums, 1)
	assert.Len(t, api.albums[0], 2)
	assert.Equal(t, "https://t.me/c/1234/7", p.Permalink)
}

func TestTelegramErrorClassification(t *testing.T) {
	api := &fakeTelegram{err: &tele.Error{Code: 400, Description: "Bad Request: chat not found"}}
	_, err := NewTelegram(api, 1, logx.Nop()).Publish(context.Background(), content.Content{ID: "a", Caption: "x"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	api.err = errors.New("connection reset")
	_, err = NewTelegram(api, 1, logx.Nop()).Publish(context.Background(), content.Content{ID: "a", Caption: "x"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestSplitText(t *testing.T) {
	s := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	chunks := splitText(s, 40)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 30), chunks[0])
	assert.Equal(t, strings.Repeat("b", 30), chunks[1])
	assert.Equal(t, []string{"short"}, splitText("short", 40))
}

func TestWebhookPublish(t *testing.T) {
	var gotSig, gotKey string
	var gotBody webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.Unmarshal(raw, &gotBody)
		assert.Equal(t, Sign("s3cret", raw), gotSig)
		_, _ = w.Write([]byte(`{"id":"ig_123","permalink":"https://instagram.com/p/123"}`))
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret", time.Second, logx.Nop())
	p, err := wh.Publish(context.Background(), content.Content{ID: "c1", Type: content.TypeReel, Caption: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ig_123", p.ProviderID)
	assert.Equal(t, "https://instagram.com/p/123", p.Permalink)
	assert.Equal(t, "c1", gotKey)
	assert.Equal(t, content.TypeReel, gotBody.Type)
	assert.NotEmpty(t, gotSig)
}

func TestWebhookStatusClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()
	wh := NewWebhook(srv.URL, "", time.Second, logx.Nop())

	_, err := wh.Publish(context.Background(), content.Content{ID: "c1"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	status.Store(http.StatusBadGateway)
	_, err = wh.Publish(context.Background(), content.Content{ID: "c1"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	status.Store(http.StatusTooManyRequests)
	_, err = wh.Publish(context.Background(), content.Content{ID: "c1"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
