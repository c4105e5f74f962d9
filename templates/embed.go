// Package templates embeds the default lampdesk configuration.
package templates

import "embed"

//go:embed config.yaml
var FS embed.FS
