// Package institutes manages the tenant hierarchy: institutes, their classes,
// and the subjects and sections under each class.
//
// Creating an institute bootstraps its owner as the first admin and zeroes
// its usage and license aggregates. Classes consume classroom quota.
// ResolveScope turns a hierarchy id into the permissions.Scope the
// authorizer checks.
package institutes
