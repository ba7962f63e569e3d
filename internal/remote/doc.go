// SPDX-License-Identifier: MPL-2.0

// Package remote executes commands and file operations on repository hosts.
//
// A Channel is implemented by Local (direct filesystem and os/exec) and SSH
// (native client, tar-stream copies). Channels are composed with Retrying,
// which retries transient connectivity failures, and Guard, which refuses
// deletes of system paths before they reach the host.
package remote
