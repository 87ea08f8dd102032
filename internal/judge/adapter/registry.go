package adapter

import (
	"sort"
	"strings"
	"sync"
	"time"

	"ojkit/internal/judge/model"
	pkgerrors "ojkit/pkg/errors"

	"github.com/mitchellh/mapstructure"
)

// Options are the per-judge settings understood by every adapter.
type Options struct {
	BaseURL string `mapstructure:"base_url"`
	// MinInterval overrides the judge's default request spacing.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// Handle is the account name used for API lookups that do not use the session.
	Handle string `mapstructure:"handle"`
}

// Definition describes an available judge.
type Definition struct {
	Judge              model.Judge
	Name               string
	DefaultBaseURL     string
	DefaultMinInterval time.Duration
	Build              func(opts Options) (Adapter, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[model.Judge]Definition{}
)

// Register adds a judge definition. Called from init() in the judge packages.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[def.Judge]; dup {
		panic("adapter: duplicate registration for " + string(def.Judge))
	}
	registry[def.Judge] = def
}

// Definitions returns all registered judges sorted by name.
func Definitions() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Definition, 0, len(registry))
	for _, def := range registry {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Judge < out[j].Judge })
	return out
}

// Build creates the adapter for judge from loosely typed settings, e.g. a config file section.
func Build(judge model.Judge, settings map[string]interface{}) (Adapter, error) {
	registryMu.RLock()
	def, ok := registry[judge]
	registryMu.RUnlock()
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.JudgeNotFound, "unknown judge %q", judge).
			WithDetail(pkgerrors.DetailJudge, string(judge))
	}

	opts, err := DecodeOptions(settings)
	if err != nil {
		return nil, pkgerrors.GetError(err).WithDetail(pkgerrors.DetailJudge, string(judge))
	}
	if opts.BaseURL == "" {
		opts.BaseURL = def.DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MinInterval <= 0 {
		opts.MinInterval = def.DefaultMinInterval
	}
	return def.Build(opts)
}

// DecodeOptions converts settings into Options. Durations may be given as strings like "500ms".
func DecodeOptions(settings map[string]interface{}) (Options, error) {
	var opts Options
	if len(settings) == 0 {
		return opts, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return opts, pkgerrors.Wrap(err, pkgerrors.InternalError)
	}
	if err := decoder.Decode(settings); err != nil {
		return opts, pkgerrors.Wrapf(err, pkgerrors.InvalidParams, "invalid judge settings: %v", err)
	}
	return opts, nil
}
