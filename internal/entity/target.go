package entity

import (
	"time"

	"github.com/google/uuid"
)

type ScriptKind string

const (
	ScriptPython     ScriptKind = "python"
	ScriptTypeScript ScriptKind = "typescript"
)

// Target is the configuration a run executes against: either a stored
// scraper script or a platform integration. Targets are managed by the
// surrounding application; this service only reads them.
type Target struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       uuid.UUID  `json:"owner_id"`
	Kind          RunKind    `json:"kind"`
	Name          string     `json:"name"`
	ScriptContent string     `json:"script_content,omitempty"`
	ScriptKind    ScriptKind `json:"script_kind,omitempty"`
	Platform      string     `json:"platform,omitempty"`
	APIURL        string     `json:"api_url,omitempty"`
	APIKey        string     `json:"api_key,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
}
