// Package cli holds the presentation helpers of the refsession commands:
// persistent flags, user-facing error types, spinners, the status table,
// terminal prompts and the terminal navigator used by the session guard.
//
// Commands in cmd/ stay thin; anything that formats output or talks to the
// terminal lives here so it can be tested without cobra.
package cli
