// Package meeting sequences the create-meeting and join-meeting workflows.
//
// Creating a meeting moves through these stages:
//
//	Idle -> AwaitingCredential -> (redirect, caller resubmits later)
//	Idle -> CreatingEvent -> PersistingRecord -> Done
//
// Any stage after Idle may end in Failed. A calendar event whose record could
// not be saved is logged as orphaned and, if enabled, deleted once. Form data
// is not kept across the consent redirect.
package meeting
