// Package auth issues and verifies the bearer tokens that guard the HTTP API.
//
// Tokens are HS256 JWTs carrying a subject and a Role. Roles map to a fixed
// set of permissions at compile time; there are no user accounts or stored
// sessions. Operators mint tokens with the `iotrelay token` subcommand.
package auth
