// Package journal records bridge and connection transitions in SQLite so an
// operator can see what happened after the fact.
//
// The tables are created by the 0001_status_journal migration. The engine
// writes; the status API reads via RecentBridgeEvents and
// RecentConnectionEvents.
package journal
