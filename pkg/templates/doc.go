// Package templates loads mail templates from a filesystem and exposes the
// subject, body and html blocks each template defines for rendering.
package templates
