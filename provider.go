package transcode

import (
	"fmt"
	"strings"
	"sync"
)

// CodecProvider creates codecs of one implementation.
type CodecProvider interface {
	// Name identifies the implementation.
	Name() string

	// SupportsEncoder reports whether an encoder producing mimeType exists.
	SupportsEncoder(mimeType string) bool

	// SupportsDecoder reports whether a decoder consuming mimeType exists.
	SupportsDecoder(mimeType string) bool

	// NewDecoder creates a decoder for input. The decoder is not started.
	NewDecoder(input Format) (Codec, error)

	// NewEncoder creates an encoder producing output. The encoder is not
	// started.
	NewEncoder(output Format) (Codec, error)
}

type providerRegistry struct {
	mu        sync.RWMutex
	providers []CodecProvider // Registration order
}

var globalProviders = &providerRegistry{}

// RegisterProvider adds p to the global provider list. Providers register
// themselves from init(). A provider with the same name replaces the
// previous registration in place.
func RegisterProvider(p CodecProvider) {
	globalProviders.mu.Lock()
	defer globalProviders.mu.Unlock()

	for i, existing := range globalProviders.providers {
		if existing.Name() == p.Name() {
			globalProviders.providers[i] = p
			return
		}
	}
	globalProviders.providers = append(globalProviders.providers, p)
}

// UnregisterProvider removes the provider with the given name.
func UnregisterProvider(name string) {
	globalProviders.mu.Lock()
	defer globalProviders.mu.Unlock()

	kept := globalProviders.providers[:0]
	for _, p := range globalProviders.providers {
		if p.Name() != name {
			kept = append(kept, p)
		}
	}
	globalProviders.providers = kept
}

// Providers returns the registered providers in registration order.
func Providers() []CodecProvider {
	globalProviders.mu.RLock()
	defer globalProviders.mu.RUnlock()

	out := make([]CodecProvider, len(globalProviders.providers))
	copy(out, globalProviders.providers)
	return out
}

// SelectEncoder returns the first provider able to encode mimeType.
// The error wraps ErrConfiguration when none is found.
func SelectEncoder(providers []CodecProvider, mimeType string) (CodecProvider, error) {
	for _, p := range providers {
		if p.SupportsEncoder(mimeType) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no encoder for %s among [%s]", ErrConfiguration, mimeType, providerNames(providers))
}

// SelectDecoder returns the first provider able to decode mimeType.
func SelectDecoder(providers []CodecProvider, mimeType string) (CodecProvider, error) {
	for _, p := range providers {
		if p.SupportsDecoder(mimeType) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no decoder for %s among [%s]", ErrConfiguration, mimeType, providerNames(providers))
}

func providerNames(providers []CodecProvider) string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ", ")
}
