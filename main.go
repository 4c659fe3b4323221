// SPDX-License-Identifier: MPL-2.0

// Command tzsync keeps a local tzdata snapshot in sync with IANA releases.
package main

import cmd "github.com/tzsync/tzsync/cmd/tzsync"

func main() {
	cmd.Execute()
}
