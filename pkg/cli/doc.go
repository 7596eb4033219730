// Package cli implements the mailtmpl command line interface.
package cli
