// Package content stores lecture materials under subjects. An upload passes
// the permission lattice, the LMS entitlement and content validation before
// storage quota is reserved, so rejected files never touch the counters.
package content
