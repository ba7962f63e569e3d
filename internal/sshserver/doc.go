// SPDX-License-Identifier: MPL-2.0

// Package sshserver provides a loopback SSH host built on the Wish library.
//
// Every session runs its command with the local shell, so the SSH remote
// channel can be exercised end to end without a real repository host.
// Only clients presenting one of the configured public keys are accepted.
package sshserver
