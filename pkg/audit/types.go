package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/chronicle/pkg/uow"
)

// Strategy selects which properties are recorded for an entity
type Strategy string

const (
	// Partial records only properties with a non-nil or changed value
	Partial Strategy = "partial"
	// Full records every non-ignored property
	Full Strategy = "full"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	return s == Partial || s == Full
}

// ParseStrategy converts a case-insensitive name to a Strategy
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid audit strategy %q (want partial or full)", s)
	}
	return st, nil
}

// State is the mutation an audit entry describes
type State string

const (
	StateAdded    State = "Added"
	StateModified State = "Modified"
	StateDeleted  State = "Deleted"
)

// StateOf maps a mutation kind to the entry state
func StateOf(kind uow.MutationKind) State {
	switch kind {
	case uow.Insert:
		return StateAdded
	case uow.Delete:
		return StateDeleted
	default:
		return StateModified
	}
}

// Property is the recorded change of one entity property
type Property struct {
	Name             string  `json:"name"`
	FriendlyName     string  `json:"friendly_name"`
	OldValue         any     `json:"old_value"`
	NewValue         any     `json:"new_value"`
	FriendlyOldValue *string `json:"friendly_old_value"`
	FriendlyNewValue *string `json:"friendly_new_value"`
}

// Entry is the audit record of one entity mutation within a commit
type Entry struct {
	ID               string               `json:"id"`
	CommitID         string               `json:"commit_id"`
	Timestamp        time.Time            `json:"timestamp"`
	FullName         string               `json:"full_name"`
	ShortName        string               `json:"short_name"`
	FriendlyName     string               `json:"friendly_name"`
	Strategy         Strategy             `json:"strategy"`
	State            State                `json:"state"`
	Description      string               `json:"description,omitempty"`
	PrimaryKeyValues []any                `json:"primary_key"`
	Properties       map[string]*Property `json:"properties"`

	// Actor information
	Actor   string `json:"actor,omitempty"`
	Reason  string `json:"reason,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// PropertyNames returns the recorded property names in sorted order
func (e *Entry) PropertyNames() []string {
	names := make([]string, 0, len(e.Properties))
	for name := range e.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryKey renders the primary key parts joined by "|", the form used by search filters
func (e *Entry) PrimaryKey() string {
	return keyText(e.PrimaryKeyValues)
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an entry from JSON
func FromJSON(data []byte) (*Entry, error) {
	var entry Entry
	err := json.Unmarshal(data, &entry)
	return &entry, err
}

func keyText(parts []any) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, "|")
}

// SearchFilter represents filters for searching stored audit entries
type SearchFilter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Entry filters
	CommitID   string
	Entities   []string // short or full entity names
	States     []State
	PrimaryKey string
	Actor      string

	// Pagination
	Limit  int
	Offset int

	// Sorting
	SortBy    string // timestamp, entity, state or actor
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit entries
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// Stats summarises stored audit entries
type Stats struct {
	TotalEntries    int64            `json:"total_entries"`
	EntriesByEntity map[string]int64 `json:"entries_by_entity"`
	EntriesByState  map[State]int64  `json:"entries_by_state"`
	EntriesByActor  map[string]int64 `json:"entries_by_actor"`
	UniqueActors    int64            `json:"unique_actors"`
	UniqueCommits   int64            `json:"unique_commits"`
	TimeRange       *TimeRange       `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy defines how long stored audit entries are kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep entries; zero keeps everything
	RetentionDays int

	// Archive, when set, receives expired entries before they are deleted
	Archive Sink
}

// DefaultRetentionPolicy returns a 90 day policy without archiving
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
