package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voiceguard/pkg/audio"
	"github.com/MrWong99/voiceguard/pkg/incident"
	"github.com/MrWong99/voiceguard/pkg/provider/stt"
	"github.com/MrWong99/voiceguard/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	vad     map[string]func(ProviderEntry) (vad.Engine, error)
	capture map[string]func(ProviderEntry) (audio.Source, error)
	stt     map[string]func(ProviderEntry) (stt.Provider, error)
	store   map[string]func(ProviderEntry) (incident.Store, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:     make(map[string]func(ProviderEntry) (vad.Engine, error)),
		capture: make(map[string]func(ProviderEntry) (audio.Source, error)),
		stt:     make(map[string]func(ProviderEntry) (stt.Provider, error)),
		store:   make(map[string]func(ProviderEntry) (incident.Store, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterCapture registers an audio source factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterStore registers an incident store factory under name.
func (r *Registry) RegisterStore(name string, factory func(ProviderEntry) (incident.Store, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[name] = factory
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates an audio source using the factory registered under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStore instantiates an incident store using the factory registered under entry.Name.
func (r *Registry) CreateStore(entry ProviderEntry) (incident.Store, error) {
	r.mu.RLock()
	factory, ok := r.store[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// ---- option helpers ----

// OptionString returns the string option key, or def when absent or not a
// string.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionBool returns the boolean option key, or def when absent.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptionFloat returns the numeric option key, or def when absent. YAML
// integers and floats are both accepted.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}
