package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists for the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a backend from its configuration block.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the per-kind table of a [Registry].
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	fn, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return fn(entry)
}

// Registry maps backend names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	stt   factories[stt.Provider]
	tts   factories[tts.Provider]
	vad   factories[vad.Engine]
	audio factories[audio.Platform]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:   newFactories[stt.Provider]("stt"),
		tts:   newFactories[tts.Provider]("tts"),
		vad:   newFactories[vad.Engine]("vad"),
		audio: newFactories[audio.Platform]("audio"),
	}
}

// RegisterSTT registers a speech-to-text factory, replacing any previous
// one with the same name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a synthesis factory.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterVAD registers a voice activity detector factory.
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = f
}

// RegisterAudio registers an audio platform factory.
func (r *Registry) RegisterAudio(name string, f Factory[audio.Platform]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = f
}

// CreateSTT builds the speech-to-text backend named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateTTS builds the synthesis backend named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateVAD builds the detector named by entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vad.create(entry)
}

// CreateAudio builds the audio platform named by entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}

// Names returns the sorted registered names for kind ("stt", "tts", "vad"
// or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return slices.Sorted(maps.Keys(r.stt.m))
	case "tts":
		return slices.Sorted(maps.Keys(r.tts.m))
	case "vad":
		return slices.Sorted(maps.Keys(r.vad.m))
	case "audio":
		return slices.Sorted(maps.Keys(r.audio.m))
	}
	return nil
}

// OptString returns opts[key] when it is a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptDuration returns opts[key] parsed as a duration string such as "750ms".
// Missing or malformed values return zero.
func OptDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(OptString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
