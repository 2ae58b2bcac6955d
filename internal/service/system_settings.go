package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"poscal/internal/models"
	"poscal/internal/repository"
)

const (
	FeatureSignalMonitor     = "feature.signal_monitor"
	FeaturePriceStream       = "feature.price_stream"
	FeatureNotifications     = "feature.notifications"
	FeatureSettlementBacklog = "feature.settlement_backlog"
)

var ErrUnknownSwitch = errors.New("unknown feature switch")

type switchDef struct {
	enabled     bool
	description string
}

var featureSwitches = map[string]switchDef{
	FeatureSignalMonitor:     {true, "scheduled evaluation of active signals"},
	FeaturePriceStream:       {true, "trade stream ingestion into price_cache"},
	FeatureNotifications:     {true, "delivery of hit and cancel notifications to sinks"},
	FeatureSettlementBacklog: {true, "retry of closed signals that still own open positions"},
}

func DefaultFeatureSwitches() map[string]bool {
	out := make(map[string]bool, len(featureSwitches))
	for key, def := range featureSwitches {
		out[key] = def.enabled
	}
	return out
}

// Switch is the effective state of one feature switch. Stored is false when
// the value comes from the built-in default.
type Switch struct {
	Key         string    `json:"key"`
	Enabled     bool      `json:"enabled"`
	Stored      bool      `json:"stored"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type SystemSettingsService struct {
	Repo repository.Repository
	Now  func() time.Time
}

// EnsureDefaultSwitches seeds missing switches. A stored value always wins,
// so an operator who turned the monitor off keeps it off across restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := s.now()
	for _, key := range switchKeys() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		def := featureSwitches[key]
		raw, _ := json.Marshal(def.enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: def.description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

// SetEnabled stores a known switch. Unknown keys are rejected so a typo
// cannot create a switch nothing reads.
func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	def, ok := featureSwitches[key]
	if !ok {
		return ErrUnknownSwitch
	}
	raw, _ := json.Marshal(enabled)
	now := s.now()
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: def.description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

// Switches reports every known switch, falling back to the default for
// switches never stored.
func (s *SystemSettingsService) Switches(ctx context.Context) ([]Switch, error) {
	stored := map[string]models.SystemSetting{}
	if s != nil && s.Repo != nil {
		prefix := "feature."
		items, err := s.Repo.ListSystemSettings(ctx, repository.ListSystemSettingsParams{
			Limit:  len(featureSwitches) * 4,
			Prefix: &prefix,
		})
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			stored[it.Key] = it
		}
	}
	out := make([]Switch, 0, len(featureSwitches))
	for _, key := range switchKeys() {
		def := featureSwitches[key]
		sw := Switch{Key: key, Enabled: def.enabled, Description: def.description}
		if it, ok := stored[key]; ok {
			var enabled bool
			if err := json.Unmarshal(it.Value, &enabled); err == nil {
				sw.Enabled = enabled
				sw.Stored = true
				sw.UpdatedAt = it.UpdatedAt
			}
		}
		out = append(out, sw)
	}
	return out, nil
}

func (s *SystemSettingsService) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func switchKeys() []string {
	keys := make([]string, 0, len(featureSwitches))
	for key := range featureSwitches {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
