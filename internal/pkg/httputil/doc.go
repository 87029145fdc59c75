// Package httputil holds the JSON response and request helpers used by the
// API handlers.
//
// Errors are written as {"error": message, "code": ..., "details": ...}. Internal
// failures are logged with their cause and returned to the client as a
// generic message.
package httputil
