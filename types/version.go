package types

// Version is the canonical project version.
// The CLI, the capture frame format and the event record format share
// this version.
const Version = "0.4.0"

// RecordVersion is the version stamped on persisted event records.
// Bumped in lockstep with Version.
const RecordVersion = Version
