// Package services holds ratebook's use cases: versioning, the change set
// workflow, preflight, rating and settings. Stores, lockers, publishers and
// metrics arrive through constructors and Options.
package services
