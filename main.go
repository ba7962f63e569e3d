// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/stagehand/cmd/stagehand"

func main() {
	cmd.Execute()
}
