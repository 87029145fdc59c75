// Package transmit implements sending.Transmitter for the supported outbound
// providers: the Gmail API (the user's own mailbox, OAuth access token) and
// AWS SES v2 (raw MIME, service credentials).
//
// Both build the same RFC 5322 message with BuildMessage and translate
// provider failures into *sending.TransmissionError.
package transmit
