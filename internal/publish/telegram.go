package publish

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	"contentpilot/internal/content"
	logx "contentpilot/pkg/logx"
)

const (
	telegramTextLimit    = 4000
	telegramCaptionLimit = 1000
)

// TelegramAPI is the subset of *tele.Bot used for channel posts.
type TelegramAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

// NewTelegramBot builds a send-only bot. Settings are checked against the
// Bot API (getMe) unless offline is set.
func NewTelegramBot(token string, timeout time.Duration, offline bool) (*tele.Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: offline,
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return b, nil
}

// Telegram posts content to one channel.
type Telegram struct {
	api    TelegramAPI
	chatID int64
	log    logx.Logger
	now    func() time.Time
}

func NewTelegram(api TelegramAPI, chatID int64, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{api: api, chatID: chatID, log: log, now: time.Now}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Publish(ctx context.Context, c content.Content) (content.Publication, error) {
	if p, ok := alreadyPublished(c); ok {
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return content.Publication{}, err
	}
	chat := &tele.Chat{ID: t.chatID}

	var (
		first *tele.Message
		err   error
	)
	switch len(c.MediaURLs) {
	case 0:
		first, err = t.sendText(ctx, chat, c.Caption)
	case 1:
		first, err = t.api.Send(chat, mediaFor(c.MediaURLs[0], truncateRunes(c.Caption, telegramCaptionLimit)))
	default:
		album := make(tele.Album, 0, len(c.MediaURLs))
		for i, u := range c.MediaURLs {
			caption := ""
			if i == 0 {
				caption = truncateRunes(c.Caption, telegramCaptionLimit)
			}
			album = append(album, mediaFor(u, caption))
		}
		var msgs []tele.Message
		msgs, err = t.api.SendAlbum(chat, album)
		if err == nil && len(msgs) > 0 {
			first = &msgs[0]
		}
	}
	if err != nil {
		return content.Publication{}, classifyTelegram(err)
	}
	if first == nil {
		return content.Publication{}, errors.New("telegram returned no message")
	}

	pub := content.Publication{
		ProviderID:  strconv.FormatInt(t.chatID, 10) + ":" + strconv.Itoa(first.ID),
		Permalink:   permalink(first.Chat, t.chatID, first.ID),
		PublishedAt: t.now().UTC(),
	}
	t.log.Info("published to telegram", logx.String("content", c.ID), logx.String("provider_id", pub.ProviderID))
	return pub, nil
}

func (t *Telegram) sendText(ctx context.Context, chat *tele.Chat, text string) (*tele.Message, error) {
	var first *tele.Message
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := t.api.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: false})
		if err != nil {
			// Partial posts are reported as success of the first chunk.
			if first != nil {
				t.log.Warn("telegram post truncated", logx.Err(err))
				return first, nil
			}
			return nil, err
		}
		if first == nil {
			first = msg
		}
	}
	return first, nil
}

func mediaFor(u, caption string) tele.Inputtable {
	switch strings.ToLower(path.Ext(strings.SplitN(u, "?", 2)[0])) {
	case ".mp4", ".mov", ".webm", ".m4v":
		return &tele.Video{File: tele.FromURL(u), Caption: caption}
	default:
		return &tele.Photo{File: tele.FromURL(u), Caption: caption}
	}
}

// classifyTelegram marks client errors (bad request, forbidden) permanent.
func classifyTelegram(err error) error {
	var te *tele.Error
	if errors.As(err, &te) && (te.Code == 400 || te.Code == 403) {
		return Permanent(err)
	}
	return errors.Wrap(err, "telegram send")
}

func permalink(chat *tele.Chat, chatID int64, msgID int) string {
	if chat != nil && chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, msgID)
	}
	// private channels: -100<internal id>
	id := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(id, "-100") {
		return fmt.Sprintf("https://t.me/c/%s/%d", strings.TrimPrefix(id, "-100"), msgID)
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries that do not produce tiny chunks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
