// Package store persists user accounts and the meetings each user created.
//
// Two backends implement Store: JSONStore keeps the whole collection in one
// UTF-8 JSON file keyed by username, and SQLiteStore keeps it in an embedded
// SQLite database. Both serialize every operation behind a single mutex so a
// read-modify-write cycle is never interleaved with another writer in the
// same process.
//
// Meetings are owned by exactly one user. FindMeeting only searches the
// meetings of the given user; a meeting id is not a global lookup key.
package store
