// Package loopback provides an asynchronous software codec that passes
// sample payloads through unchanged. It drives the full slot and event
// protocol of transcode.Codec, which makes a transcode with it a remux
// through the complete pipeline.
//
// Importing the package registers a provider named "loopback".
package loopback

import (
	"fmt"
	"strings"

	"github.com/thesyncim/transcode"
)

// Config configures loopback codecs.
type Config struct {
	InputSlots  int // Default 4
	OutputSlots int // Default 4
	SlotSize    int // Bytes per slot, default 256 KiB
	EventBuffer int // Capacity of the event channel, default 16

	// EmitCodecConfig makes encoders emit one codec config buffer before
	// their first sample.
	EmitCodecConfig bool

	// FailAfter makes a codec emit one error event after processing this
	// many inputs. Zero disables it.
	FailAfter int

	// MimeTypes restricts the supported formats. Empty means every codec
	// the transcode package knows.
	MimeTypes []string
}

func (c Config) withDefaults() Config {
	if c.InputSlots <= 0 {
		c.InputSlots = 4
	}
	if c.OutputSlots <= 0 {
		c.OutputSlots = 4
	}
	if c.SlotSize <= 0 {
		c.SlotSize = 256 * 1024
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 16
	}
	return c
}

// Provider creates loopback codecs.
type Provider struct {
	name string
	cfg  Config
}

// NewProvider creates a provider named "loopback".
func NewProvider(cfg Config) *Provider {
	return NewNamedProvider("loopback", cfg)
}

// NewNamedProvider creates a provider registered under name.
func NewNamedProvider(name string, cfg Config) *Provider {
	return &Provider{name: name, cfg: cfg.withDefaults()}
}

func init() {
	transcode.RegisterProvider(NewProvider(Config{EmitCodecConfig: true}))
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) supports(mimeType string) bool {
	if len(p.cfg.MimeTypes) > 0 {
		for _, m := range p.cfg.MimeTypes {
			if strings.EqualFold(m, mimeType) {
				return true
			}
		}
		return false
	}
	return transcode.VideoCodecFromMime(mimeType) != transcode.VideoCodecUnknown ||
		transcode.AudioCodecFromMime(mimeType) != transcode.AudioCodecUnknown
}

func (p *Provider) SupportsEncoder(mimeType string) bool { return p.supports(mimeType) }
func (p *Provider) SupportsDecoder(mimeType string) bool { return p.supports(mimeType) }

// NewDecoder creates a decoder whose output format is the raw counterpart
// of input.
func (p *Provider) NewDecoder(input transcode.Format) (transcode.Codec, error) {
	if !p.supports(input.MimeType) {
		return nil, fmt.Errorf("loopback: unsupported input %s", input.MimeType)
	}
	out := input
	out.CodecPrivate = nil
	if input.IsVideo() {
		out.MimeType = "video/raw"
	} else {
		out.MimeType = "audio/raw"
	}
	return newCodec(p.cfg, false, out), nil
}

// NewEncoder creates an encoder announcing output as its format.
func (p *Provider) NewEncoder(output transcode.Format) (transcode.Codec, error) {
	if !p.supports(output.MimeType) {
		return nil, fmt.Errorf("loopback: unsupported output %s", output.MimeType)
	}
	return newCodec(p.cfg, true, output), nil
}
