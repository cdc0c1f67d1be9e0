package models

// BotInfo describes a closure bot found in the bots directory.
type BotInfo struct {
	Path        string `json:"path"` // relative to the bots directory
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Kind        string `json:"kind"` // "exec" or "js"
	Enabled     bool   `json:"enabled"`
	Reason      string `json:"reason,omitempty"` // why a bot is disabled
}
