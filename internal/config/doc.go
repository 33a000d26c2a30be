// Package config loads the chain manager daemon configuration from a JSON
// file and fills in defaults for every section left empty.
package config
