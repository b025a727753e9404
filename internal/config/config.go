// Package config loads transcode settings from defaults, an optional
// transcode.yaml, TRANSCODE_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thesyncim/transcode"
)

// Keys
const (
	KeyVideoInput      = "input.video"
	KeyAudioInput      = "input.audio"
	KeyOutput          = "output"
	KeyCopyVideo       = "video.enabled"
	KeyCopyAudio       = "audio.enabled"
	KeyWidth           = "video.width"
	KeyHeight          = "video.height"
	KeyVideoMime       = "video.mime"
	KeyVideoBitrate    = "video.bitrate"
	KeyFrameRate       = "video.framerate"
	KeyIFrameInterval  = "video.iframe_interval"
	KeyAudioMime       = "audio.mime"
	KeyAudioBitrate    = "audio.bitrate"
	KeyAudioSampleRate = "audio.sample_rate"
	KeyAudioChannels   = "audio.channels"
	KeyEventBuffer     = "pipeline.event_buffer"
	KeyTimeout         = "pipeline.timeout"
	KeyTolerateErrors  = "pipeline.tolerate_codec_errors"
	KeyLogLevel        = "log.level"
)

// Config is the resolved configuration of one CLI run.
type Config struct {
	VideoInput string
	AudioInput string
	Output     string

	CopyVideo bool
	CopyAudio bool

	Width          int
	Height         int
	VideoMime      string
	VideoBitrate   int
	FrameRate      int
	IFrameInterval int

	AudioMime       string
	AudioBitrate    int
	AudioSampleRate int
	AudioChannels   int

	EventBuffer         int
	Timeout             time.Duration
	TolerateCodecErrors bool

	LogLevel string
}

// New returns a viper instance with defaults, environment binding and the
// config file search path set up.
func New() *viper.Viper {
	v := viper.New()

	d := transcode.DefaultOptions()
	v.SetDefault(KeyCopyVideo, d.CopyVideo)
	v.SetDefault(KeyCopyAudio, d.CopyAudio)
	v.SetDefault(KeyWidth, d.Width)
	v.SetDefault(KeyHeight, d.Height)
	v.SetDefault(KeyVideoMime, d.VideoMimeType)
	v.SetDefault(KeyVideoBitrate, d.VideoBitrateBps)
	v.SetDefault(KeyFrameRate, d.FrameRate)
	v.SetDefault(KeyIFrameInterval, d.IFrameInterval)
	v.SetDefault(KeyAudioMime, d.AudioMimeType)
	v.SetDefault(KeyAudioBitrate, d.AudioBitrateBps)
	v.SetDefault(KeyAudioSampleRate, 0)
	v.SetDefault(KeyAudioChannels, d.AudioChannels)
	v.SetDefault(KeyEventBuffer, d.EventBuffer)
	v.SetDefault(KeyTimeout, time.Duration(0))
	v.SetDefault(KeyTolerateErrors, false)
	v.SetDefault(KeyLogLevel, "info")

	// TRANSCODE_VIDEO_WIDTH, TRANSCODE_PIPELINE_TIMEOUT, ...
	v.SetEnvPrefix("transcode")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("transcode")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(os.ExpandEnv("$HOME/.config/transcode"))
	v.AddConfigPath("/etc/transcode")
	return v
}

// BindFlags makes the flags override the matching keys. Flags missing from
// the set are skipped.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the config file, if any, and resolves every key. An explicit
// file must exist; the default search path may find nothing.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	c := &Config{
		VideoInput:          v.GetString(KeyVideoInput),
		AudioInput:          v.GetString(KeyAudioInput),
		Output:              v.GetString(KeyOutput),
		CopyVideo:           v.GetBool(KeyCopyVideo),
		CopyAudio:           v.GetBool(KeyCopyAudio),
		Width:               v.GetInt(KeyWidth),
		Height:              v.GetInt(KeyHeight),
		VideoMime:           v.GetString(KeyVideoMime),
		VideoBitrate:        v.GetInt(KeyVideoBitrate),
		FrameRate:           v.GetInt(KeyFrameRate),
		IFrameInterval:      v.GetInt(KeyIFrameInterval),
		AudioMime:           v.GetString(KeyAudioMime),
		AudioBitrate:        v.GetInt(KeyAudioBitrate),
		AudioSampleRate:     v.GetInt(KeyAudioSampleRate),
		AudioChannels:       v.GetInt(KeyAudioChannels),
		EventBuffer:         v.GetInt(KeyEventBuffer),
		Timeout:             v.GetDuration(KeyTimeout),
		TolerateCodecErrors: v.GetBool(KeyTolerateErrors),
		LogLevel:            v.GetString(KeyLogLevel),
	}

	// A stream without an input cannot be re-encoded.
	if c.VideoInput == "" {
		c.CopyVideo = false
	}
	if c.AudioInput == "" {
		c.CopyAudio = false
	}
	return c, nil
}

// Validate checks that the configuration describes a runnable transcode.
func (c *Config) Validate() error {
	if c.Output == "" {
		return errors.New("no output file")
	}
	if !c.CopyVideo && !c.CopyAudio {
		return transcode.ErrNoStreams
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("invalid size %dx%d", c.Width, c.Height)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", c.Timeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Inputs returns the input files of the enabled streams, video first.
func (c *Config) Inputs() []string {
	var paths []string
	if c.CopyVideo {
		paths = append(paths, c.VideoInput)
	}
	if c.CopyAudio && c.AudioInput != c.VideoInput {
		paths = append(paths, c.AudioInput)
	}
	return paths
}

// Options converts the configuration into transcode options. The sink
// factory is left to the caller.
func (c *Config) Options(log logrus.FieldLogger) transcode.Options {
	return transcode.Options{
		CopyVideo:           c.CopyVideo,
		CopyAudio:           c.CopyAudio,
		Width:               c.Width,
		Height:              c.Height,
		VideoMimeType:       c.VideoMime,
		VideoBitrateBps:     c.VideoBitrate,
		FrameRate:           c.FrameRate,
		IFrameInterval:      c.IFrameInterval,
		AudioMimeType:       c.AudioMime,
		AudioBitrateBps:     c.AudioBitrate,
		AudioSampleRate:     c.AudioSampleRate,
		AudioChannels:       c.AudioChannels,
		EventBuffer:         c.EventBuffer,
		Timeout:             c.Timeout,
		TolerateCodecErrors: c.TolerateCodecErrors,
		Logger:              log,
	}
}
