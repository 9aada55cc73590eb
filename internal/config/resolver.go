package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Camilo-ovalle/tab-limiter/internal/storage"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// ErrPolicyLocked is returned by Save when an administered policy with
// enforce_settings active blocks all local configuration writes.
var ErrPolicyLocked = errors.New("blocked by policy")

// Policy is a centrally-administered override set. Nil fields are absent.
// Administered values always win over locally stored ones.
type Policy struct {
	Enabled              *bool
	TabLimit             *int
	WindowLimit          *int
	AutoClose            *bool
	AutoCloseWindows     *bool
	Notifications        *bool
	PauseBetweenClosures *time.Duration
	WindowGracePeriod    *time.Duration
	AllowUserConfig      *bool
	EnforceSettings      *bool
}

// Empty reports whether no administered key is set.
func (p Policy) Empty() bool {
	return p.Enabled == nil && p.TabLimit == nil && p.WindowLimit == nil &&
		p.AutoClose == nil && p.AutoCloseWindows == nil && p.Notifications == nil &&
		p.PauseBetweenClosures == nil && p.WindowGracePeriod == nil &&
		p.AllowUserConfig == nil && p.EnforceSettings == nil
}

// PolicySource reads the administered policy. A read failure is reported but
// callers treat it as "no administered policy", never as fatal.
type PolicySource interface {
	Load() (Policy, error)
}

// Effective is a total configuration snapshot: built-in defaults overlaid
// with the stored record, overlaid with administered policy.
type Effective struct {
	Settings
	IsManaged       bool `json:"isManaged"`
	AllowUserConfig bool `json:"allowUserConfig"`
	EnforceSettings bool `json:"enforceSettings"`
}

// Resolver merges defaults, the stored record, and administered policy into
// effective snapshots, and gates configuration writes on policy.
type Resolver struct {
	store  storage.Store
	policy PolicySource
	log    zerolog.Logger
}

// NewResolver builds a Resolver. policy may be nil when no administered
// source is configured.
func NewResolver(store storage.Store, policy PolicySource, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, policy: policy, log: log}
}

// Effective returns the current effective configuration. Storage and policy
// read failures degrade to defaults and "no policy" respectively.
func (r *Resolver) Effective() Effective {
	s := DefaultSettings()

	rec, err := r.store.GetSettings()
	if err != nil {
		r.log.Warn().Err(err).Msg("read stored settings failed, using defaults")
	} else if rec != nil {
		s = fromRecord(*rec)
	}

	pol := r.loadPolicy()
	applyPolicy(&s, pol)

	eff := Effective{
		Settings:        s,
		IsManaged:       !pol.Empty(),
		AllowUserConfig: true,
	}
	if pol.AllowUserConfig != nil {
		eff.AllowUserConfig = *pol.AllowUserConfig
	}
	if pol.EnforceSettings != nil {
		eff.EnforceSettings = *pol.EnforceSettings
	}
	eff.Normalize()
	return eff
}

// Save persists a full settings record. Returns ErrPolicyLocked without
// persisting when the configuration is managed and enforcement-locked.
// When managed but editable, administered keys silently overwrite the
// caller's values before persisting; local edits to those keys are
// discarded, not merged.
func (r *Resolver) Save(s Settings) error {
	pol := r.loadPolicy()
	if !pol.Empty() && pol.EnforceSettings != nil && *pol.EnforceSettings {
		return ErrPolicyLocked
	}

	applyPolicy(&s, pol)
	s.Normalize()

	if err := r.store.PutSettings(s.toRecord()); err != nil {
		return err
	}
	r.log.Info().Int("tab_limit", s.TabLimit).Int("window_limit", s.WindowLimit).
		Bool("enabled", s.Enabled).Msg("settings saved")
	return nil
}

func (r *Resolver) loadPolicy() Policy {
	if r.policy == nil {
		return Policy{}
	}
	pol, err := r.policy.Load()
	if err != nil {
		r.log.Warn().Err(err).Msg("administered policy unreadable, treating as absent")
		return Policy{}
	}
	return pol
}

// applyPolicy overlays administered values onto s, highest precedence.
func applyPolicy(s *Settings, p Policy) {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.TabLimit != nil {
		s.TabLimit = *p.TabLimit
	}
	if p.WindowLimit != nil {
		s.WindowLimit = *p.WindowLimit
	}
	if p.AutoClose != nil {
		s.AutoClose = *p.AutoClose
	}
	if p.AutoCloseWindows != nil {
		s.AutoCloseWindows = *p.AutoCloseWindows
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	if p.PauseBetweenClosures != nil {
		s.PauseBetweenClosures = *p.PauseBetweenClosures
	}
	if p.WindowGracePeriod != nil {
		s.WindowGracePeriod = *p.WindowGracePeriod
	}
}

// --- Environment policy source ----------------------------------------------

// envPolicyPrefix namespaces administered keys, e.g. POLICY_TAB_LIMIT=5.
const envPolicyPrefix = "POLICY_"

// EnvPolicySource reads administered policy from POLICY_* environment
// variables, typically injected by a fleet-management layer.
type EnvPolicySource struct{}

// Load reads the POLICY_* keys. Malformed values are skipped per-key.
func (EnvPolicySource) Load() (Policy, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(envPolicyPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPolicyPrefix))
	}), nil); err != nil {
		return Policy{}, err
	}

	var p Policy
	p.Enabled = boolKey(k, "enabled")
	p.TabLimit = intKey(k, "tab_limit")
	p.WindowLimit = intKey(k, "window_limit")
	p.AutoClose = boolKey(k, "auto_close")
	p.AutoCloseWindows = boolKey(k, "auto_close_windows")
	p.Notifications = boolKey(k, "notifications")
	p.PauseBetweenClosures = durationKey(k, "pause_between_closures")
	p.WindowGracePeriod = durationKey(k, "window_grace_period")
	p.AllowUserConfig = boolKey(k, "allow_user_config")
	p.EnforceSettings = boolKey(k, "enforce_settings")
	return p, nil
}

func boolKey(k *koanf.Koanf, key string) *bool {
	if !k.Exists(key) {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(k.String(key)))
	if err != nil {
		return nil
	}
	return &v
}

func intKey(k *koanf.Koanf, key string) *int {
	if !k.Exists(key) {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(k.String(key)))
	if err != nil {
		return nil
	}
	return &v
}

// durationKey accepts Go duration syntax ("500ms") or a bare integer of
// milliseconds, the unit the UI uses.
func durationKey(k *koanf.Koanf, key string) *time.Duration {
	if !k.Exists(key) {
		return nil
	}
	raw := strings.TrimSpace(k.String(key))
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		d := time.Duration(ms) * time.Millisecond
		return &d
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil
	}
	return &d
}
