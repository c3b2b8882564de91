// Package preflight provides readiness checks for external binaries and
// filesystem paths that scribed depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs failures before the worker
//     starts picking jobs.
//   - The CLI "scribe status" command renders the same checks so a user can
//     see why the daemon would refuse work.
package preflight
