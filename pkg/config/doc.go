// Package config loads the mailtmpl YAML configuration file.
package config
