// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/augment/cmd/augment"

func main() {
	cmd.Execute()
}
