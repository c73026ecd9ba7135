// Package quota tracks per-institute usage counters and enforces them against
// the institute's current entitlement.
//
// Usage counters are:
//   - storage used, in decimal gigabytes, per institute and per subject
//   - admin, staff and faculty seat counts
//   - classroom count
//
// Every check and its matching adjustment run together as one Reserve or
// Release call, serialized per institute through a lock.Locker, so that
// concurrent uploads or invitations cannot both pass a check against the same
// remaining capacity.
package quota
