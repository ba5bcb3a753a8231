// Package diag defines the diagnostics genspec reports to the user.
//
// A Diagnostic carries a severity, a stable Code, a message, the location
// it refers to and optional notes. Producers hand diagnostics to a Reporter;
// the command line tool collects them in a Bag and renders the bag once the
// command is done, either one line per entry (FormatShort) or colored
// (Pretty).
//
// Locations are coarse: the input file, and for IR problems the function.
// Codes are grouped by the stage that raises them:
//
//   - IN: reading inputs (config, modules, images, export indexes, flags)
//   - SPC: specialization outcomes worth surfacing
//   - LKP: runtime registry lookups
//   - OBS: observability output
//   - INT: internal errors; the command exits with status 2
package diag
