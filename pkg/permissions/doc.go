// Package permissions implements the institute permission lattice.
//
// Institute roles are ordered FACULTY < STAFF < ADMIN. Scope permissions make
// a principal in-charge of one class, subject or section; they are grants, not
// ranks, and FACULTY members can never hold one.
//
// Authorization for an action at a scope resolves in order:
//
//  1. An active ADMIN is always allowed.
//  2. Admin-only actions (license and member management) stop here.
//  3. Editing the student roster is also open to active STAFF.
//  4. Below institute scope, a grant on the scope itself, or on the owning
//     class for subjects and sections, is enough.
//  5. Viewing at institute scope needs only an active membership.
//
// Invitations move from pending (inactive) to accepted (active) and are
// removed by revoke. Faculty invitations are accepted on creation.
package permissions
