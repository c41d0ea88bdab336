package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"contentpilot/internal/app"
	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
)

type scheduleFlags struct {
	contentID   string
	contentType string
	caption     string
	media       []string
	at          string
	tz          string
	repeat      string
	days        string
	until       string
	maxAttempts int
}

func newScheduleCmd() *cobra.Command {
	var f scheduleFlags
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule content for publishing",
		Long: "Schedule existing content (--content) or create a draft from --caption/--media and schedule it.\n" +
			"Times are RFC3339 or \"2006-01-02 15:04\" in --tz.",
		RunE: func(cmd *cobra.Command, args []string) error {
			it, draft, err := f.item(time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if draft != nil {
					c, err := a.CreateContent(cmd.Context(), *draft)
					if err != nil {
						return err
					}
					it.ContentID = c.ID
				}
				created, err := a.Schedule(cmd.Context(), it)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), created)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.contentID, "content", "", "existing content id")
	fl.StringVar(&f.contentType, "type", "post", "content type for a new draft: post|reel|story")
	fl.StringVar(&f.caption, "caption", "", "caption for a new draft")
	fl.StringSliceVar(&f.media, "media", nil, "media URLs for a new draft")
	fl.StringVar(&f.at, "at", "", "publish time (default now)")
	fl.StringVar(&f.tz, "tz", "UTC", "IANA timezone for --at and --until")
	fl.StringVar(&f.repeat, "repeat", "", "recurrence: daily|weekly|monthly")
	fl.StringVar(&f.days, "days", "", "weekly recurrence days, 0=Sunday (e.g. 1,3,5)")
	fl.StringVar(&f.until, "until", "", "last day of the recurrence")
	fl.IntVar(&f.maxAttempts, "max-attempts", 0, "attempts before the item fails (default from config)")
	return cmd
}

// item builds the schedule request; draft is set when new content must be created first.
func (f scheduleFlags) item(now time.Time) (schedule.Item, *content.Content, error) {
	loc, err := time.LoadLocation(f.tz)
	if err != nil {
		return schedule.Item{}, nil, errors.Wrap(err, "--tz")
	}
	at := now
	if f.at != "" {
		if at, err = parseTime(f.at, loc); err != nil {
			return schedule.Item{}, nil, errors.Wrap(err, "--at")
		}
	}
	it := schedule.Item{
		ContentID:    f.contentID,
		ScheduledFor: at.UTC(),
		Timezone:     loc.String(),
		MaxAttempts:  f.maxAttempts,
	}

	if f.repeat != "" {
		r := &schedule.Recurrence{Enabled: true, Frequency: schedule.Frequency(strings.ToLower(f.repeat))}
		if f.days != "" {
			for _, p := range strings.Split(f.days, ",") {
				d, err := strconv.Atoi(strings.TrimSpace(p))
				if err != nil {
					return schedule.Item{}, nil, errors.Wrapf(err, "--days %q", p)
				}
				r.DaysOfWeek = append(r.DaysOfWeek, d)
			}
		}
		if f.until != "" {
			end, err := parseTime(f.until, loc)
			if err != nil {
				return schedule.Item{}, nil, errors.Wrap(err, "--until")
			}
			end = end.UTC()
			r.EndDate = &end
		}
		it.Recurring = r
	}

	if f.contentID != "" {
		return it, nil, nil
	}
	if f.caption == "" && len(f.media) == 0 {
		return schedule.Item{}, nil, errors.New("either --content or --caption/--media is required")
	}
	typ := content.Type(strings.ToLower(f.contentType))
	if !typ.Valid() {
		return schedule.Item{}, nil, errors.Newf("--type: invalid content type %q", f.contentType)
	}
	it.ContentType = typ
	return it, &content.Content{Type: typ, Caption: f.caption, MediaURLs: f.media}, nil
}

func parseTime(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized time %q", raw)
}
