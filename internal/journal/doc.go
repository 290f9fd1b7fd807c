// Package journal is the optional SQLite operator trace of a running
// conductor: one row per resolution pass, per executed command and per
// "now" fix.
//
// The conductor only writes to it. Rows are ordered by a journal-assigned
// seq (ORDER BY seq ASC), which matches the order records were written.
package journal
