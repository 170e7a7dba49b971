package domain

import (
	"sort"
	"time"
)

// PreflightIssueCode classifies a blocking preflight issue.
type PreflightIssueCode string

// Preflight issue codes.
const (
	IssueItemVersionMissing      PreflightIssueCode = "item-version-missing"
	IssueInvalidPayload          PreflightIssueCode = "invalid-payload"
	IssueCoverageUnpublishable   PreflightIssueCode = "coverage-unpublishable"
	IssueMissingFormMapping      PreflightIssueCode = "missing-form-mapping"
	IssueRuleTargetUnpublishable PreflightIssueCode = "rule-target-unpublishable"
	IssueInvalidRateProgram      PreflightIssueCode = "invalid-rate-program"
	IssueMissingTable            PreflightIssueCode = "missing-table"
	IssueEmptyTable              PreflightIssueCode = "empty-table"
	IssueMissingTableEntry       PreflightIssueCode = "missing-table-entry"
	IssueStateProgramMissing     PreflightIssueCode = "state-program-missing"
	IssueStateProgramNotReady    PreflightIssueCode = "state-program-not-ready"
	IssueArtifactUnpublishable   PreflightIssueCode = "artifact-unpublishable"
)

// PreflightIssue is one correctable problem blocking publish.
type PreflightIssue struct {
	Code         PreflightIssueCode `json:"code"`
	EntityType   EntityType         `json:"entityType"`
	EntityID     string             `json:"entityId"`
	VersionID    string             `json:"versionId,omitempty"`
	Jurisdiction string             `json:"jurisdiction,omitempty"`
	Message      string             `json:"message"`
}

// PreflightReport lists every blocking issue found for a change set.
type PreflightReport struct {
	ChangeSetID   string           `json:"changeSetId"`
	Jurisdictions []string         `json:"jurisdictions,omitempty"`
	CheckedAt     time.Time        `json:"checkedAt"`
	Issues        []PreflightIssue `json:"issues"`
}

// Blocking reports whether any issue remains.
func (r PreflightReport) Blocking() bool {
	return len(r.Issues) > 0
}

// IssuesFor returns the issues raised against entityID.
func (r PreflightReport) IssuesFor(entityID string) []PreflightIssue {
	var out []PreflightIssue
	for _, issue := range r.Issues {
		if issue.EntityID == entityID {
			out = append(out, issue)
		}
	}
	return out
}

// SortIssues orders issues deterministically.
func SortIssues(issues []PreflightIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Jurisdiction != b.Jurisdiction {
			return a.Jurisdiction < b.Jurisdiction
		}
		return a.Message < b.Message
	})
}
