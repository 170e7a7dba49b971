// Package domain is ratebook's vocabulary: versioned configuration
// entities, change sets and their audit trail, rate programs, rating
// tables and the results the engine produces.
//
// Entities are immutable once published. A VersionedEntity is one numbered
// snapshot of a product, coverage, form, rule, rate program or rating
// table; a ChangeSet groups draft versions and carries them through review,
// approval and publication. The package depends only on the standard
// library.
package domain
