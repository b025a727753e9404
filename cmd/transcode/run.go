package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thesyncim/transcode"
	"github.com/thesyncim/transcode/container"
	"github.com/thesyncim/transcode/internal/config"
	_ "github.com/thesyncim/transcode/loopback"
)

// runFlags maps flag names to config keys.
var runFlags = map[string]string{
	"video":                 config.KeyVideoInput,
	"audio":                 config.KeyAudioInput,
	"output":                config.KeyOutput,
	"copy-video":            config.KeyCopyVideo,
	"copy-audio":            config.KeyCopyAudio,
	"width":                 config.KeyWidth,
	"height":                config.KeyHeight,
	"video-codec":           config.KeyVideoMime,
	"video-bitrate":         config.KeyVideoBitrate,
	"framerate":             config.KeyFrameRate,
	"audio-codec":           config.KeyAudioMime,
	"audio-bitrate":         config.KeyAudioBitrate,
	"timeout":               config.KeyTimeout,
	"tolerate-codec-errors": config.KeyTolerateErrors,
	"log-level":             config.KeyLogLevel,
}

func newRunCommand(root *rootOptions) *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transcode inputs into one output file",
		Example: `  transcode run --video in.ivf --audio in.ogg -o out.webm
  transcode run --video in.h264 -o out.mp4 --video-codec video/H264
  TRANSCODE_PIPELINE_TIMEOUT=30s transcode run --audio in.ogg -o out.ogg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, root.ConfigFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !root.Verbose {
				level, _ := logrus.ParseLevel(cfg.LogLevel)
				logrus.SetLevel(level)
			}
			return runTranscode(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("video", "", "Video input file (.ivf, .h264)")
	flags.String("audio", "", "Audio input file (.ogg, .opus)")
	flags.StringP("output", "o", "", "Output file (.webm, .mkv, .ogg, .mp4)")
	flags.Bool("copy-video", true, "Re-encode the video track")
	flags.Bool("copy-audio", true, "Re-encode the audio track")
	flags.Int("width", 0, "Output width (default 1920)")
	flags.Int("height", 0, "Output height (default 1080)")
	flags.String("video-codec", "", "Output video MIME type (default video/VP8)")
	flags.Int("video-bitrate", 0, "Output video bitrate in bps")
	flags.Int("framerate", 0, "Output frame rate")
	flags.String("audio-codec", "", "Output audio MIME type (default audio/opus)")
	flags.Int("audio-bitrate", 0, "Output audio bitrate in bps")
	flags.Duration("timeout", 0, "Give up if the transcode takes longer (0 = no limit)")
	flags.Bool("tolerate-codec-errors", false, "Log codec errors instead of failing")
	flags.String("log-level", "info", "Log level")

	if err := config.BindFlags(v, flags, runFlags); err != nil {
		panic(err)
	}
	return cmd
}

func runTranscode(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log := logrus.WithField("output", cfg.Output)
	opts := cfg.Options(log)
	opts.NewMuxer = container.NewMuxer

	report, err := transcode.Transcode(ctx, container.FileSource(cfg.Inputs()...), cfg.Output, opts)
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Printf("skipped: %v\n", report.Reason)
		return nil
	}
	if err := report.Verify(); err != nil {
		return err
	}

	for _, st := range report.Streams {
		fmt.Printf("%-5s extracted=%d decoded=%d encoded=%d dropped=%d track=%d\n",
			st.Kind, st.Extracted, st.Decoded, st.Encoded, st.Dropped, st.Track)
	}
	fmt.Printf("wrote %s in %s\n", cfg.Output, report.Elapsed.Round(time.Millisecond))
	return nil
}
