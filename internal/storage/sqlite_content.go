package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
)

const contentColumns = `id, type, owner_id, caption, media_urls, payload, status, provider_id, permalink,
	published_at, publish_error, metrics, created_at, updated_at`

func (s *sqliteStore) CreateContent(ctx context.Context, c content.Content) (content.Content, error) {
	now := s.now().UTC()
	if c.ID == "" {
		c.ID = content.NewID()
	}
	if !c.Type.Valid() {
		return content.Content{}, errors.Newf("invalid content type %q", c.Type)
	}
	if c.Status == "" {
		c.Status = content.StatusDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	media, err := json.Marshal(nonNilSlice(c.MediaURLs))
	if err != nil {
		return content.Content{}, err
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return content.Content{}, err
	}
	metrics, err := json.Marshal(c.Metrics)
	if err != nil {
		return content.Content{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO content(`+contentColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, string(c.Type), c.OwnerID, c.Caption, string(media), string(payload), string(c.Status),
		nullStr(c.ProviderID), nullStr(c.Permalink), nullTime(c.PublishedAt), nullStr(c.PublishError),
		string(metrics), nanos(c.CreatedAt), nanos(c.UpdatedAt),
	)
	if err != nil {
		return content.Content{}, errors.Wrap(err, "insert content")
	}
	return c, nil
}

func (s *sqliteStore) FindContent(ctx context.Context, id string) (content.Content, error) {
	var (
		c                                    content.Content
		typ, status, media, payload, metrics string
		providerID, permalink, publishErr    sql.NullString
		publishedAt                          sql.NullInt64
		createdAt, updatedAt                 int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content WHERE id = ?`, id).Scan(
		&c.ID, &typ, &c.OwnerID, &c.Caption, &media, &payload, &status, &providerID, &permalink,
		&publishedAt, &publishErr, &metrics, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Content{}, errors.Wrapf(content.ErrNotFound, "content %s", id)
	}
	if err != nil {
		return content.Content{}, err
	}
	c.Type = content.Type(typ)
	c.Status = content.Status(status)
	c.ProviderID = providerID.String
	c.Permalink = permalink.String
	c.PublishError = publishErr.String
	c.PublishedAt = scanTime(publishedAt)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	if err := json.Unmarshal([]byte(media), &c.MediaURLs); err != nil {
		return content.Content{}, errors.Wrap(err, "decode media_urls")
	}
	if err := json.Unmarshal([]byte(payload), &c.Payload); err != nil {
		return content.Content{}, errors.Wrap(err, "decode payload")
	}
	if err := json.Unmarshal([]byte(metrics), &c.Metrics); err != nil {
		return content.Content{}, errors.Wrap(err, "decode metrics")
	}
	return c, nil
}

func (s *sqliteStore) MarkPublished(ctx context.Context, id string, p content.Publication) error {
	at := p.PublishedAt
	if at.IsZero() {
		at = s.now()
	}
	return s.updateContent(ctx, id,
		`UPDATE content SET status = ?, provider_id = ?, permalink = ?, published_at = ?, publish_error = NULL, updated_at = ?
		 WHERE id = ?`,
		string(content.StatusPublished), nullStr(p.ProviderID), nullStr(p.Permalink), nanos(at), nanos(s.now()), id)
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.updateContent(ctx, id,
		`UPDATE content SET status = ?, publish_error = ?, updated_at = ? WHERE id = ?`,
		string(content.StatusFailed), nullStr(reason), nanos(s.now()), id)
}

func (s *sqliteStore) updateContent(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update content %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(content.ErrNotFound, "content %s", id)
	}
	return nil
}

func (s *sqliteStore) CloneContent(ctx context.Context, id string) (content.Content, error) {
	orig, err := s.FindContent(ctx, id)
	if err != nil {
		return content.Content{}, err
	}
	return s.CreateContent(ctx, orig.Clone(s.now().UTC()))
}

func (s *sqliteStore) DeleteContent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id)
	return errors.Wrapf(err, "delete content %s", id)
}

func nonNilSlice(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
