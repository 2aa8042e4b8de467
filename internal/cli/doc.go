// Package cli implements the interactive journal shell: registering secret
// tags, unlocking them by phrase, writing and reading encrypted entries and
// the manual session controls.
//
// Activation phrases are read from the terminal without echo and wiped after
// use. Failures are reported with common.UserMessage, so authentication and
// decryption errors all look the same to the user.
package cli
