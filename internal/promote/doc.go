// SPDX-License-Identifier: MPL-2.0

// Package promote publishes built repository trees to a repository host.
//
// A job uploads its tree to the pending area, then promotes pending into the
// staging and/or production areas. A target without an index is replaced
// wholesale, keeping one snapshot backup of the previous tree; a target with
// an index is merged by the host's repository generator. Mirror syncs to s3
// or an external host run detached on the repository host.
package promote
