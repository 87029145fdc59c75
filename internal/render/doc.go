// Package render expands campaign templates for a single recipient.
//
// Render and ExtractVariables implement the default {{name}} substitution:
// every placeholder whose name matches [A-Za-z0-9_]+ is replaced by its
// binding, and placeholders without a binding render as the empty string.
// Brace sequences that do not match the grammar pass through unchanged.
//
// Engine adds per-campaign Liquid templates on top of the same contract.
package render
