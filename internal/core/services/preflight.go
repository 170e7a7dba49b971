package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
	"github.com/custodia-labs/ratebook/internal/logger"
)

// PreflightValidator checks whether a change set can go live. It only
// reads, so it runs inside a View for reports and inside the publish Update
// so the check and the commit see the same state.
type PreflightValidator struct {
	metrics driven.Metrics
}

// NewPreflightValidator creates a validator.
func NewPreflightValidator(metrics driven.Metrics) *PreflightValidator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PreflightValidator{metrics: metrics}
}

// preflightRun is the state of one check.
type preflightRun struct {
	ctx    context.Context
	r      driven.Reader
	cs     domain.ChangeSet
	states []string
	items  map[domain.EntityRef]domain.VersionedEntity
	cache  map[domain.EntityType]map[string]*domain.VersionedEntity
	issues []domain.PreflightIssue
	seen   map[string]struct{}
}

// Check returns every blocking issue for cs in the given jurisdictions.
func (p *PreflightValidator) Check(ctx context.Context, r driven.Reader, cs domain.ChangeSet, jurisdictions []string, now time.Time) (domain.PreflightReport, error) {
	logger.Section("Preflight " + cs.ID)
	run := &preflightRun{
		ctx:    ctx,
		r:      r,
		cs:     cs,
		states: jurisdictions,
		items:  make(map[domain.EntityRef]domain.VersionedEntity, len(cs.Items)),
		cache:  map[domain.EntityType]map[string]*domain.VersionedEntity{},
		seen:   map[string]struct{}{},
	}

	if err := run.loadItems(); err != nil {
		return domain.PreflightReport{}, err
	}
	products, coverages, programs, err := run.collect()
	if err != nil {
		return domain.PreflightReport{}, err
	}
	for _, coverageID := range coverages {
		if err := run.checkCoverage(coverageID); err != nil {
			return domain.PreflightReport{}, err
		}
	}
	for _, programID := range programs {
		if err := run.checkRateProgram(programID); err != nil {
			return domain.PreflightReport{}, err
		}
	}
	for _, product := range products {
		if err := run.checkJurisdictions(product, jurisdictions); err != nil {
			return domain.PreflightReport{}, err
		}
	}

	domain.SortIssues(run.issues)
	for _, issue := range run.issues {
		p.metrics.CountPreflightIssue(string(issue.Code))
		logger.Debug("preflight issue %s on %s/%s: %s", issue.Code, issue.EntityType, issue.EntityID, issue.Message)
	}
	if run.issues == nil {
		run.issues = []domain.PreflightIssue{}
	}
	return domain.PreflightReport{
		ChangeSetID:   cs.ID,
		Jurisdictions: jurisdictions,
		CheckedAt:     now,
		Issues:        run.issues,
	}, nil
}

func (run *preflightRun) add(issue domain.PreflightIssue) {
	key := strings.Join([]string{string(issue.Code), string(issue.EntityType), issue.EntityID, issue.Jurisdiction, issue.Message}, "\x00")
	if _, dup := run.seen[key]; dup {
		return
	}
	run.seen[key] = struct{}{}
	run.issues = append(run.issues, issue)
}

func (run *preflightRun) loadItems() error {
	for _, item := range run.cs.Items {
		v, err := run.r.GetVersion(run.ctx, item.TargetVersionID)
		if err != nil {
			if isNotFound(err) {
				run.add(domain.PreflightIssue{
					Code:       domain.IssueItemVersionMissing,
					EntityType: item.EntityType,
					EntityID:   item.EntityID,
					VersionID:  item.TargetVersionID,
					Message:    fmt.Sprintf("version %s no longer exists", item.TargetVersionID),
				})
				continue
			}
			return err
		}
		run.items[item.Ref()] = *v
	}
	return nil
}

// candidate returns the version of ref that will be live after publish: the
// change set's own version, otherwise the newest approved or published one.
// Entities deleted by the change set have no candidate.
func (run *preflightRun) candidate(ref domain.EntityRef) (*domain.VersionedEntity, error) {
	if item, ok := run.cs.ItemFor(ref); ok {
		if item.Action == domain.ActionDelete {
			return nil, nil
		}
		if v, ok := run.items[ref]; ok {
			return &v, nil
		}
		return nil, nil
	}
	byID, err := run.publishable(ref.EntityType)
	if err != nil {
		return nil, err
	}
	return byID[ref.EntityID], nil
}

// publishable indexes the newest approved or published version of every
// entity of a type, overlaid with the change set's items.
func (run *preflightRun) publishable(entityType domain.EntityType) (map[string]*domain.VersionedEntity, error) {
	if byID, ok := run.cache[entityType]; ok {
		return byID, nil
	}
	versions, err := run.r.ListVersionsByType(run.ctx, entityType)
	if err != nil {
		return nil, err
	}
	byID := map[string]*domain.VersionedEntity{}
	for i := range versions {
		v := &versions[i]
		if !v.Status.IsPublishable() {
			continue
		}
		if current, ok := byID[v.EntityID]; !ok || v.Number > current.Number {
			byID[v.EntityID] = v
		}
	}
	for _, item := range run.cs.Items {
		if item.EntityType != entityType {
			continue
		}
		if item.Action == domain.ActionDelete {
			delete(byID, item.EntityID)
			continue
		}
		if v, ok := run.items[item.Ref()]; ok {
			byID[item.EntityID] = &v
		}
	}
	run.cache[entityType] = byID
	return byID, nil
}

// collect gathers the products in the change set, the coverages they and
// the change set reference, and the rate programs to check.
func (run *preflightRun) collect() ([]domain.VersionedEntity, []string, []string, error) {
	var products []domain.VersionedEntity
	coverages := map[string]struct{}{}
	programs := map[string]struct{}{}

	for _, item := range run.cs.Items {
		if item.Action == domain.ActionDelete {
			continue
		}
		v, ok := run.items[item.Ref()]
		if !ok {
			continue
		}
		switch item.EntityType {
		case domain.EntityProduct:
			product, err := DecodeProduct(v.Payload)
			if err != nil {
				run.add(invalidPayload(v, err))
				continue
			}
			products = append(products, v)
			for _, id := range product.CoverageIDs {
				coverages[id] = struct{}{}
			}
			if product.RateProgramID != "" {
				programs[product.RateProgramID] = struct{}{}
			}
		case domain.EntityCoverage:
			coverages[item.EntityID] = struct{}{}
		case domain.EntityRateProgram:
			programs[item.EntityID] = struct{}{}
		}
	}
	return products, sortedKeys(coverages), sortedKeys(programs), nil
}

func (run *preflightRun) checkCoverage(coverageID string) error {
	ref := domain.EntityRef{EntityType: domain.EntityCoverage, EntityID: coverageID}
	coverage, err := run.candidate(ref)
	if err != nil {
		return err
	}
	if coverage == nil {
		run.add(domain.PreflightIssue{
			Code:       domain.IssueCoverageUnpublishable,
			EntityType: domain.EntityCoverage,
			EntityID:   coverageID,
			Message:    "coverage has no approved or published version and none in this change set",
		})
	} else if _, err := DecodeCoverage(coverage.Payload); err != nil {
		run.add(invalidPayload(*coverage, err))
	}

	forms, err := run.publishable(domain.EntityForm)
	if err != nil {
		return err
	}
	mapped := false
	for _, id := range sortedVersionKeys(forms) {
		form, err := DecodeForm(forms[id].Payload)
		if err != nil {
			run.add(invalidPayload(*forms[id], err))
			continue
		}
		if form.MapsCoverage(coverageID) {
			mapped = true
			break
		}
	}
	if !mapped {
		run.add(domain.PreflightIssue{
			Code:       domain.IssueMissingFormMapping,
			EntityType: domain.EntityCoverage,
			EntityID:   coverageID,
			Message:    "no approved or published form maps to this coverage",
		})
	}

	rules, err := run.publishable(domain.EntityRule)
	if err != nil {
		return err
	}
	for _, id := range sortedVersionKeys(rules) {
		rule, err := DecodeRule(rules[id].Payload)
		if err != nil {
			run.add(invalidPayload(*rules[id], err))
			continue
		}
		if !rule.References(coverageID) || rule.Target == nil {
			continue
		}
		target, err := run.candidate(*rule.Target)
		if err != nil {
			return err
		}
		if target == nil {
			run.add(domain.PreflightIssue{
				Code:       domain.IssueRuleTargetUnpublishable,
				EntityType: domain.EntityRule,
				EntityID:   id,
				VersionID:  rules[id].VersionID,
				Message:    fmt.Sprintf("rule on coverage %s targets %s, which has no publishable version", coverageID, rule.Target),
			})
		}
	}
	return nil
}

func (run *preflightRun) checkRateProgram(programID string) error {
	ref := domain.EntityRef{EntityType: domain.EntityRateProgram, EntityID: programID}
	version, err := run.candidate(ref)
	if err != nil {
		return err
	}
	if version == nil {
		run.add(domain.PreflightIssue{
			Code:       domain.IssueInvalidRateProgram,
			EntityType: domain.EntityRateProgram,
			EntityID:   programID,
			Message:    "rate program has no publishable version",
		})
		return nil
	}
	program, err := DecodeRateProgram(version.Payload)
	if err != nil {
		run.add(domain.PreflightIssue{
			Code:       domain.IssueInvalidRateProgram,
			EntityType: domain.EntityRateProgram,
			EntityID:   programID,
			VersionID:  version.VersionID,
			Message:    err.Error(),
		})
		return nil
	}

	for _, step := range program.Steps {
		if step.Table == nil {
			continue
		}
		name := step.Table.Name
		tableVersion, err := run.candidate(domain.EntityRef{EntityType: domain.EntityTable, EntityID: name})
		if err != nil {
			return err
		}
		if tableVersion == nil {
			run.add(domain.PreflightIssue{
				Code:       domain.IssueMissingTable,
				EntityType: domain.EntityRateProgram,
				EntityID:   programID,
				VersionID:  version.VersionID,
				Message:    fmt.Sprintf("step %q references table %q, which has no publishable version", step.Label(), name),
			})
			continue
		}
		table, err := DecodeTable(name, tableVersion.Payload)
		if err != nil {
			run.add(invalidPayload(*tableVersion, err))
			continue
		}
		if len(table.Cells) == 0 {
			run.add(domain.PreflightIssue{
				Code:       domain.IssueEmptyTable,
				EntityType: domain.EntityTable,
				EntityID:   name,
				VersionID:  tableVersion.VersionID,
				Message:    fmt.Sprintf("table has no cells (step %q)", step.Label()),
			})
			continue
		}
		restrict, inScope := run.stepRestriction(step, table)
		if !inScope {
			continue
		}
		for _, dim := range table.Dimensions {
			if len(dim.Values) == 0 {
				continue
			}
			for _, value := range restrict[dim.Name] {
				if containsFold(dim.Values, value) {
					continue
				}
				issue := domain.PreflightIssue{
					Code:       domain.IssueMissingTableEntry,
					EntityType: domain.EntityTable,
					EntityID:   name,
					VersionID:  tableVersion.VersionID,
					Message:    fmt.Sprintf("%s=%s matches no declared value (step %q)", dim.Name, value, step.Label()),
				}
				if domain.IsStateDimension(dim.Name) {
					issue.Jurisdiction = value
				}
				run.add(issue)
			}
		}
		for _, combo := range table.Combinations(restrict) {
			key := domain.CompositeKey(combo...)
			if _, ok := table.Cells[key]; ok {
				continue
			}
			run.add(domain.PreflightIssue{
				Code:       domain.IssueMissingTableEntry,
				EntityType: domain.EntityTable,
				EntityID:   name,
				VersionID:  tableVersion.VersionID,
				Message:    fmt.Sprintf("no cell for %s", key),
			})
		}
	}
	return nil
}

// stepRestriction narrows state and coverage dimensions to the values the
// step can actually be evaluated with. It reports false when the step is
// out of scope for every jurisdiction being published.
func (run *preflightRun) stepRestriction(step domain.RatingStep, table domain.RatingTable) (map[string][]string, bool) {
	restrict := map[string][]string{}
	for _, dim := range table.Dimensions {
		switch {
		case domain.IsStateDimension(dim.Name):
			states := step.StateScope
			if len(run.states) > 0 {
				if len(states) == 0 {
					states = run.states
				} else {
					states = intersect(states, run.states)
					if len(states) == 0 {
						return nil, false
					}
				}
			}
			if len(states) > 0 {
				restrict[dim.Name] = states
			}
		case domain.IsCoverageDimension(dim.Name) && len(step.CoverageScope) > 0:
			restrict[dim.Name] = step.CoverageScope
		}
	}
	return restrict, true
}

func (run *preflightRun) checkJurisdictions(productVersion domain.VersionedEntity, jurisdictions []string) error {
	product, err := DecodeProduct(productVersion.Payload)
	if err != nil {
		return nil
	}
	inChangeSet := make(map[string]struct{}, len(run.cs.Items))
	for _, item := range run.cs.Items {
		inChangeSet[item.TargetVersionID] = struct{}{}
	}

	for _, code := range jurisdictions {
		program, ok := product.StateProgramFor(code)
		if !ok {
			run.add(domain.PreflightIssue{
				Code:         domain.IssueStateProgramMissing,
				EntityType:   domain.EntityProduct,
				EntityID:     productVersion.EntityID,
				VersionID:    productVersion.VersionID,
				Jurisdiction: code,
				Message:      "product declares no state program for this jurisdiction",
			})
			continue
		}
		switch {
		case program.Status == domain.StateProgramNotOffered:
			continue
		case !program.Status.IsReady():
			run.add(domain.PreflightIssue{
				Code:         domain.IssueStateProgramNotReady,
				EntityType:   domain.EntityProduct,
				EntityID:     productVersion.EntityID,
				VersionID:    productVersion.VersionID,
				Jurisdiction: code,
				Message:      fmt.Sprintf("state program is %s", program.Status),
			})
			continue
		}
		for _, artifactID := range program.RequiredArtifactVersionIDs {
			if _, ok := inChangeSet[artifactID]; ok {
				continue
			}
			artifact, err := run.r.GetVersion(run.ctx, artifactID)
			if err != nil && !isNotFound(err) {
				return err
			}
			if artifact != nil && artifact.Status.IsPublishable() {
				continue
			}
			status := "missing"
			if artifact != nil {
				status = string(artifact.Status)
			}
			run.add(domain.PreflightIssue{
				Code:         domain.IssueArtifactUnpublishable,
				EntityType:   domain.EntityProduct,
				EntityID:     productVersion.EntityID,
				VersionID:    productVersion.VersionID,
				Jurisdiction: code,
				Message:      fmt.Sprintf("required artifact %s is %s", artifactID, status),
			})
		}
	}
	return nil
}

func invalidPayload(v domain.VersionedEntity, err error) domain.PreflightIssue {
	return domain.PreflightIssue{
		Code:       domain.IssueInvalidPayload,
		EntityType: v.EntityType,
		EntityID:   v.EntityID,
		VersionID:  v.VersionID,
		Message:    err.Error(),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedVersionKeys(byID map[string]*domain.VersionedEntity) []string {
	keys := make([]string, 0, len(byID))
	for key := range byID {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func intersect(values, allowed []string) []string {
	var out []string
	for _, value := range values {
		if containsFold(allowed, value) {
			out = append(out, value)
		}
	}
	return out
}
