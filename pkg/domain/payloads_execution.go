package domain

type TargetAdded struct {
	Name             string     `json:"name"`
	TargetType       TargetType `json:"targetType"`
	Endpoint         string     `json:"endpoint"`
	TimeoutMillis    int64      `json:"timeoutMillis"`
	InterruptOnError bool       `json:"interruptOnError"`
	SigningKey       string     `json:"signingKey"`
}

type TargetChanged struct {
	Name             *string `json:"name,omitempty"`
	Endpoint         *string `json:"endpoint,omitempty"`
	TimeoutMillis    *int64  `json:"timeoutMillis,omitempty"`
	InterruptOnError *bool   `json:"interruptOnError,omitempty"`
	// SigningKey is set when the key was rotated.
	SigningKey *string `json:"signingKey,omitempty"`
}

// ExecutionTargetType discriminates the two edge kinds of an execution node.
type ExecutionTargetType string

const (
	ExecutionTargetTypeTarget  ExecutionTargetType = "target"
	ExecutionTargetTypeInclude ExecutionTargetType = "include"
)

// ExecutionTarget is one ordered entry of an execution node: either a webhook
// target reference or an include of another execution node.
type ExecutionTarget struct {
	Type      ExecutionTargetType `json:"type"`
	TargetID  string              `json:"targetId,omitempty"`
	IncludeID string              `json:"includeId,omitempty"`
}

// ExecutionSet replaces the full ordered target list of an execution node.
type ExecutionSet struct {
	Targets []ExecutionTarget `json:"targets"`
}

type ActionAdded struct {
	Name          string `json:"name"`
	Script        string `json:"script"`
	TimeoutMillis int64  `json:"timeoutMillis,omitempty"`
	AllowedToFail bool   `json:"allowedToFail,omitempty"`
}

type ActionChanged struct {
	Name          *string `json:"name,omitempty"`
	Script        *string `json:"script,omitempty"`
	TimeoutMillis *int64  `json:"timeoutMillis,omitempty"`
	AllowedToFail *bool   `json:"allowedToFail,omitempty"`
}
