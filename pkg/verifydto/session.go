package verifydto

import "time"

// SessionView is the presentation snapshot of one verification session.
type SessionView struct {
	SessionID   string
	ChatID      string
	ClaimedName string
	Name        string
	Bridged     bool
	Code        string
	State       string
	Attempts    int
	Remaining   time.Duration
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CardImage   []byte
}

// GateDecision is the access answer served to the game-side gate.
type GateDecision struct {
	User            string   `json:"user"`
	Restricted      bool     `json:"restricted"`
	State           string   `json:"state,omitempty"`
	AllowedCommands []string `json:"allowed_commands,omitempty"`
	Hub             string   `json:"hub,omitempty"`
	Adventure       bool     `json:"adventure,omitempty"`
}
