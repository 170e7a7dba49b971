package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ChangeKind classifies one field difference between two versions.
type ChangeKind string

// Field change kinds.
const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// FieldChange is a single flattened payload path that differs.
type FieldChange struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

// VersionDiff compares two versions of the same entity.
type VersionDiff struct {
	Entity     EntityRef     `json:"entity"`
	BaseID     string        `json:"baseVersionId"`
	TargetID   string        `json:"targetVersionId"`
	BaseNumber int           `json:"baseNumber"`
	TargetNum  int           `json:"targetNumber"`
	Changes    []FieldChange `json:"changes"`
	StatusDiff bool          `json:"statusChanged"`
	WindowDiff bool          `json:"windowChanged"`
}

// Empty reports whether the payloads are identical.
func (d VersionDiff) Empty() bool {
	return len(d.Changes) == 0
}

// DiffVersions flattens both payloads into dotted paths and reports every
// path whose encoded value differs.
func DiffVersions(base, target VersionedEntity) (VersionDiff, error) {
	if base.Ref() != target.Ref() {
		return VersionDiff{}, NewValidationError("target", "cannot compare %s with %s", base.Ref(), target.Ref())
	}
	before := map[string]string{}
	if err := flattenPayload("", base.Payload, before); err != nil {
		return VersionDiff{}, err
	}
	after := map[string]string{}
	if err := flattenPayload("", target.Payload, after); err != nil {
		return VersionDiff{}, err
	}

	paths := make(map[string]struct{}, len(before)+len(after))
	for path := range before {
		paths[path] = struct{}{}
	}
	for path := range after {
		paths[path] = struct{}{}
	}
	keys := make([]string, 0, len(paths))
	for path := range paths {
		keys = append(keys, path)
	}
	sort.Strings(keys)

	diff := VersionDiff{
		Entity:     base.Ref(),
		BaseID:     base.VersionID,
		TargetID:   target.VersionID,
		BaseNumber: base.Number,
		TargetNum:  target.Number,
		StatusDiff: base.Status != target.Status,
		WindowDiff: !sameTime(base.EffectiveStart, target.EffectiveStart) || !sameTime(base.EffectiveEnd, target.EffectiveEnd),
		Changes:    []FieldChange{},
	}
	for _, path := range keys {
		b, inBase := before[path]
		a, inTarget := after[path]
		switch {
		case inBase && !inTarget:
			diff.Changes = append(diff.Changes, FieldChange{Path: path, Kind: ChangeRemoved, Before: b})
		case !inBase && inTarget:
			diff.Changes = append(diff.Changes, FieldChange{Path: path, Kind: ChangeAdded, After: a})
		case a != b:
			diff.Changes = append(diff.Changes, FieldChange{Path: path, Kind: ChangeModified, Before: b, After: a})
		}
	}
	return diff, nil
}

func flattenPayload(prefix string, value any, acc map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "{}"
			}
			return nil
		}
		for key, item := range typed {
			next := key
			if prefix != "" {
				next = prefix + "." + key
			}
			if err := flattenPayload(next, item, acc); err != nil {
				return err
			}
		}
	case []any:
		if len(typed) == 0 {
			if prefix != "" {
				acc[prefix] = "[]"
			}
			return nil
		}
		for idx, item := range typed {
			if err := flattenPayload(fmt.Sprintf("%s[%d]", prefix, idx), item, acc); err != nil {
				return err
			}
		}
	case nil:
		if prefix != "" {
			acc[prefix] = "null"
		}
	default:
		if prefix == "" {
			return fmt.Errorf("payload key missing for value %v", typed)
		}
		encoded, err := json.Marshal(typed)
		if err != nil {
			acc[prefix] = fmt.Sprintf("%v", typed)
		} else {
			acc[prefix] = string(encoded)
		}
	}
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
