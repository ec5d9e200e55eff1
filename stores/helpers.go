package stores

import (
	"encoding/json"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/authcore"
)

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := parseFlexibleTime(s); err == nil {
		return t
	}
	return time.Time{}
}

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// fromJSON decodes s into dst; an empty column leaves dst untouched.
func fromJSON(s string, dst any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

// rowScanner is the subset of the rows API the stores consume.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// tenantFilter returns a WHERE fragment for tenantID and the named params.
func tenantFilter(tenantID string) (string, map[string]any) {
	if tenantID == authcore.AnyTenant {
		return "1=1", map[string]any{}
	}
	return "tenant_id = :tenant_id", map[string]any{"tenant_id": tenantID}
}

// NewSQLStores wires every storage port to db. Run Migrate first.
func NewSQLStores(db *squealx.DB) authcore.Stores {
	return authcore.Stores{
		Permissions: NewSQLPermissionStore(db),
		Roles:       NewSQLRoleStore(db),
		Policies:    NewSQLPolicyStore(db),
		Assignments: NewSQLAssignmentStore(db),
	}
}
