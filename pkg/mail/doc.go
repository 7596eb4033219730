// Package mail provides template-driven email messages: a Message type whose
// subject, body and HTML alternative are rendered from named template blocks,
// an SMTP sender with retry logic, a background mail queue, and service
// lifecycle management.
package mail
