// SPDX-License-Identifier: MPL-2.0

// Package ledger makes incremental promotion resumable.
//
// Index files found in the pending area become jobs. Each job commits in
// two phases: Phase A moves the data files into the target area, Phase B
// swaps the index file in. The ledger file is rewritten after every state
// change, so an interrupted run picks up where it stopped.
package ledger
