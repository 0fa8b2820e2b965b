package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Setting is one persisted PortalSettings field, JSON-encoded.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Setting) TableName() string {
	return "settings"
}

// PortalSettings is the typed view over the settings table.
type PortalSettings struct {
	BridgeEnabled       bool             `json:"bridgeEnabled"`
	GroupChatID         int64            `json:"groupChatId"`
	ApplicationsChatID  int64            `json:"applicationsChatId"`
	AnnouncementsChatID int64            `json:"announcementsChatId"`
	VerifiedRoleName    string           `json:"verifiedRoleName"`
	RoleChats           map[string]int64 `json:"roleChats"`
	ServerName          string           `json:"serverName"`
	ServerAddress       string           `json:"serverAddress"`
}

func DefaultPortalSettings() PortalSettings {
	return PortalSettings{
		VerifiedRoleName: "verified",
		RoleChats:        map[string]int64{},
	}
}

func (s *PortalSettings) Validate() error {
	if s.BridgeEnabled && s.ApplicationsChatID == 0 {
		return fmt.Errorf("applicationsChatId is required when the bridge is enabled")
	}
	for name, chatID := range s.RoleChats {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("roleChats contains an empty role name")
		}
		if chatID == 0 {
			return fmt.Errorf("roleChats[%s] has no chat id", name)
		}
	}
	if len(s.ServerName) > 100 {
		return fmt.Errorf("serverName is too long")
	}
	return nil
}

// ChatForRole finds the chat mapped to a role name, ignoring case.
func (s *PortalSettings) ChatForRole(name string) (int64, bool) {
	for roleName, chatID := range s.RoleChats {
		if strings.EqualFold(strings.TrimSpace(roleName), strings.TrimSpace(name)) {
			return chatID, true
		}
	}
	return 0, false
}

// SettingKeys lists the persisted keys in a stable order.
func SettingKeys() []string {
	fields, _ := settingFields(DefaultPortalSettings())
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PortalSettingsFromRows overlays stored rows on the defaults. Rows with
// unknown keys are ignored.
func PortalSettingsFromRows(rows []Setting) (PortalSettings, error) {
	stored := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		stored[row.Key] = json.RawMessage(row.Value)
	}

	settings := DefaultPortalSettings()
	if err := settings.apply(stored, false); err != nil {
		return settings, err
	}
	return settings, nil
}

// Patch applies a partial update. Unknown keys are rejected.
func (s *PortalSettings) Patch(patch map[string]json.RawMessage) error {
	return s.apply(patch, true)
}

// Rows encodes every field as a Setting row.
func (s PortalSettings) Rows() ([]Setting, error) {
	fields, err := settingFields(s)
	if err != nil {
		return nil, err
	}

	rows := make([]Setting, 0, len(fields))
	for _, key := range SettingKeys() {
		rows = append(rows, Setting{Key: key, Value: string(fields[key])})
	}
	return rows, nil
}

func (s *PortalSettings) apply(values map[string]json.RawMessage, strict bool) error {
	known, err := settingFields(*s)
	if err != nil {
		return err
	}

	merged := make(map[string]json.RawMessage, len(known))
	for k, v := range known {
		merged[k] = v
	}
	for k, v := range values {
		if _, ok := known[k]; !ok {
			if strict {
				return fmt.Errorf("unknown setting %q", k)
			}
			continue
		}
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	next := PortalSettings{}
	if err := json.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("invalid settings value: %w", err)
	}
	if next.RoleChats == nil {
		next.RoleChats = map[string]int64{}
	}
	*s = next
	return nil
}

func settingFields(s PortalSettings) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
