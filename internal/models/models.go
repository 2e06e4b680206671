// Package models defines the persisted domain types shared across the
// platform services.
package models

import "time"

// Role is the ordered access level attached to a user. viewer < admin.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// Allows reports whether a holder of this role satisfies the minimum role.
func (r Role) Allows(min Role) bool {
	if min == RoleViewer {
		return r == RoleViewer || r == RoleAdmin
	}
	return r == RoleAdmin
}

// NormalizeRole maps legacy role names onto the two-role model.
// "maintainer" is accepted as an alias for admin.
func NormalizeRole(raw string) (Role, bool) {
	switch raw {
	case "viewer":
		return RoleViewer, true
	case "admin", "maintainer":
		return RoleAdmin, true
	}
	return "", false
}

// User is a platform account.
type User struct {
	ID             string                 `json:"id"`
	Username       string                 `json:"username"`
	PasswordHash   string                 `json:"-"`
	Role           Role                   `json:"role"`
	DefaultView    *string                `json:"default_view,omitempty"`
	SingleViewMode bool                   `json:"single_view_mode"`
	IsActive       bool                   `json:"is_active"`
	CreatedBy      *string                `json:"created_by,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastLoginAt    *time.Time             `json:"last_login_at,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Session is an opaque-token authenticated context. A session is valid iff
// it is active and expires_at is in the future. The token itself is never
// stored; only its keyed hash is.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TokenHash      string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	IsActive       bool      `json:"is_active"`
	RememberMe     bool      `json:"remember_me"`
}

// AuthEventType enumerates audit log event types.
type AuthEventType string

const (
	AuthEventLoginSuccess    AuthEventType = "login_success"
	AuthEventLoginFailed     AuthEventType = "login_failed"
	AuthEventLogout          AuthEventType = "logout"
	AuthEventSessionExpired  AuthEventType = "session_expired"
	AuthEventPasswordChanged AuthEventType = "password_changed"
	AuthEventUserCreated     AuthEventType = "user_created"
	AuthEventUserDeleted     AuthEventType = "user_deleted"
	AuthEventUserUpdated     AuthEventType = "user_updated"
)

// AuthAuditEvent is an append-only record of an authentication-related action.
type AuthAuditEvent struct {
	ID        string        `json:"id"`
	UserID    *string       `json:"user_id,omitempty"`
	EventType AuthEventType `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	IPAddress string        `json:"ip_address,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
	Details   string        `json:"details,omitempty"`
}

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

const (
	ProjectNew       ProjectStatus = "new"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s ProjectStatus) bool {
	switch s {
	case ProjectNew, ProjectActive, ProjectCompleted, ProjectArchived:
		return true
	}
	return false
}

// Project is the top-level tracked unit of work.
type Project struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Status      ProjectStatus          `json:"status"`
	OwnerID     *string                `json:"owner_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Component belongs to a project and cascade-deletes with it.
type Component struct {
	ID        string                 `json:"id"`
	ProjectID string                 `json:"project_id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Progress  int                    `json:"progress"`
	Position  map[string]interface{} `json:"position,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Task belongs to a component.
type Task struct {
	ID          string     `json:"id"`
	ComponentID string     `json:"component_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ComponentDependency is a directed edge between components. Callers are
// responsible for keeping the graph acyclic; storage does not enforce it.
type ComponentDependency struct {
	ComponentID string `json:"component_id"`
	DependsOnID string `json:"depends_on_id"`
}

// EventMirror is the persistent copy of a bus message.
type EventMirror struct {
	Sequence   int64                  `json:"sequence"`
	Topic      string                 `json:"topic"`
	Payload    map[string]interface{} `json:"payload"`
	ReceivedAt time.Time              `json:"received_at"`
	TraceID    string                 `json:"trace_id"`
}

// DLQEvent is a message that could not be processed.
type DLQEvent struct {
	ID            string    `json:"id"`
	OriginalTopic string    `json:"original_topic"`
	FailureReason string    `json:"failure_reason"`
	Payload       []byte    `json:"payload"`
	ReceivedAt    time.Time `json:"received_at"`
}

// PluginType enumerates the supported plugin categories.
type PluginType string

const (
	PluginTypeUI          PluginType = "ui"
	PluginTypeData        PluginType = "data"
	PluginTypeIntegration PluginType = "integration"
	PluginTypeSystem      PluginType = "system"
)

// ValidPluginType reports whether t is a known plugin type.
func ValidPluginType(t PluginType) bool {
	switch t {
	case PluginTypeUI, PluginTypeData, PluginTypeIntegration, PluginTypeSystem:
		return true
	}
	return false
}

// PluginStatus enumerates plugin lifecycle states.
type PluginStatus string

const (
	PluginPending      PluginStatus = "pending"
	PluginInstalling   PluginStatus = "installing"
	PluginInstalled    PluginStatus = "installed"
	PluginFailed       PluginStatus = "failed"
	PluginUpdating     PluginStatus = "updating"
	PluginUninstalling PluginStatus = "uninstalling"
	PluginDisabled     PluginStatus = "disabled"
)

// Plugin is an installed (or installing) third-party extension.
type Plugin struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Version            string                 `json:"version"`
	Description        string                 `json:"description,omitempty"`
	Author             string                 `json:"author"`
	Type               PluginType             `json:"type"`
	RepositoryURL      string                 `json:"repository_url"`
	InstallPath        string                 `json:"install_path,omitempty"`
	Manifest           map[string]interface{} `json:"manifest,omitempty"`
	Permissions        []string               `json:"permissions"`
	Config             map[string]interface{} `json:"config,omitempty"`
	Status             PluginStatus           `json:"status"`
	InstalledAt        time.Time              `json:"installed_at"`
	LastUpdatedAt      *time.Time             `json:"last_updated_at,omitempty"`
	InstallationID     *string                `json:"installation_id,omitempty"`
	SecurityViolations int                    `json:"security_violations"`
	LastViolationAt    *time.Time             `json:"last_violation_at,omitempty"`
	SecurityScore      int                    `json:"security_score"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// PluginInstallation tracks a single install attempt.
type PluginInstallation struct {
	ID           string       `json:"id"`
	Status       PluginStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ErrorDetails string       `json:"error_details,omitempty"`
}

// ViolationSeverity orders security findings.
type ViolationSeverity string

const (
	SeverityLow      ViolationSeverity = "low"
	SeverityMedium   ViolationSeverity = "medium"
	SeverityHigh     ViolationSeverity = "high"
	SeverityCritical ViolationSeverity = "critical"
)

// SeverityWeight returns the score weight for a severity.
func SeverityWeight(s ViolationSeverity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 5
	case SeverityHigh:
		return 15
	case SeverityCritical:
		return 40
	}
	return 0
}

// PluginSecurityViolation is a finding from static analysis or runtime
// permission enforcement.
type PluginSecurityViolation struct {
	ID              string            `json:"id"`
	PluginID        string            `json:"plugin_id"`
	ViolationType   string            `json:"violation_type"`
	Description     string            `json:"description"`
	Severity        ViolationSeverity `json:"severity"`
	Context         string            `json:"context,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Resolved        bool              `json:"resolved"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
}

// PluginAPIAccess records one proxied plugin API call.
type PluginAPIAccess struct {
	ID                 string    `json:"id"`
	PluginID           string    `json:"plugin_id"`
	Endpoint           string    `json:"endpoint"`
	Method             string    `json:"method"`
	StatusCode         int       `json:"status_code"`
	PermissionRequired string    `json:"permission_required,omitempty"`
	AccessGranted      bool      `json:"access_granted"`
	Timestamp          time.Time `json:"timestamp"`
	ResponseTimeMs     int64     `json:"response_time_ms"`
	RequestData        string    `json:"request_data,omitempty"`
	UserAgent          string    `json:"user_agent,omitempty"`
	IPAddress          string    `json:"ip_address,omitempty"`
}

// PluginConfigHistory records one configuration change.
type PluginConfigHistory struct {
	ID           string                 `json:"id"`
	PluginID     string                 `json:"plugin_id"`
	OldConfig    map[string]interface{} `json:"old_config,omitempty"`
	NewConfig    map[string]interface{} `json:"new_config"`
	ChangedBy    string                 `json:"changed_by"`
	ChangeReason string                 `json:"change_reason,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// PluginHealthCheck records one probe of a plugin's health endpoint.
type PluginHealthCheck struct {
	ID             string    `json:"id"`
	PluginID       string    `json:"plugin_id"`
	Healthy        bool      `json:"healthy"`
	StatusCode     int       `json:"status_code,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Detail         string    `json:"detail,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}
