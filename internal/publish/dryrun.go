package publish

import (
	"context"
	"time"

	"contentpilot/internal/content"
	logx "contentpilot/pkg/logx"
)

// DryRun logs content instead of posting it.
type DryRun struct {
	Log logx.Logger
	Now func() time.Time
}

func (DryRun) Name() string { return "dryrun" }

func (d DryRun) Publish(ctx context.Context, c content.Content) (content.Publication, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	d.Log.Info("dry-run publish",
		logx.String("content", c.ID),
		logx.String("type", string(c.Type)),
		logx.Int("media", len(c.MediaURLs)),
	)
	return content.Publication{ProviderID: "dryrun:" + c.ID, PublishedAt: now()}, nil
}
