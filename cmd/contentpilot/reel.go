package main

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"contentpilot/internal/app"
	"contentpilot/internal/content"
	"contentpilot/internal/workflow"
)

func newReelCmd() *cobra.Command {
	var (
		req     workflow.Request
		retry   bool
		save    bool
		caption string
	)
	cmd := &cobra.Command{
		Use:   "reel",
		Short: "Generate a reel (script, voiceover, video, subtitles, compose) and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Topic == "" {
				return errors.New("--topic is required")
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				orch := a.Orchestrator()
				if orch == nil {
					return errors.New("reel pipeline not configured: providers.script, voice and video need a base_url")
				}
				ctx := cmd.Context()
				res := orch.Run(ctx, req)
				if retry && res.Outcome() == "partial" {
					res = orch.RetryFailed(ctx, res)
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if save && res.FinalURL != "" {
					c, err := a.CreateContent(ctx, reelContent(res, caption))
					if err != nil {
						return err
					}
					cmd.PrintErrf("saved reel draft %s\n", c.ID)
				}
				if res.Outcome() != "complete" {
					return errors.Newf("reel %s: %d stage(s) failed", res.Outcome(), len(res.Failures))
				}
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&req.Topic, "topic", "", "what the reel is about")
	fl.StringVar(&req.Tone, "tone", "", "script tone")
	fl.StringVar(&req.VoiceStyle, "voice", "normal", "voice style: calm|normal|energetic|fast")
	fl.StringVar(&req.AspectRatio, "aspect", "9:16", "video aspect ratio")
	fl.IntVar(&req.DurationSec, "seconds", 30, "target length")
	fl.BoolVar(&retry, "retry", false, "retry failed stages once")
	fl.BoolVar(&save, "save", false, "store the composed reel as a draft")
	fl.StringVar(&caption, "caption", "", "caption for the saved draft (default: topic)")
	return cmd
}

func reelContent(res workflow.Result, caption string) content.Content {
	if caption == "" {
		caption = res.Request.Topic
	}
	return content.Content{
		Type:      content.TypeReel,
		Caption:   caption,
		MediaURLs: []string{res.FinalURL},
		Payload: map[string]string{
			"run_id":    res.RunID,
			"topic":     res.Request.Topic,
			"audio_url": res.AudioURL,
			"video_url": res.VideoURL,
		},
	}
}
