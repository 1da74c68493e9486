// Package ui embeds the HTML templates for the login and consent
// pages served during the authorization flow.
package ui

import "embed"

//go:embed *.html
var FS embed.FS
