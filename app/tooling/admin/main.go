// This program performs administrative tasks for the proof of work node.
package main

import "github.com/ardanlabs/powchain/app/tooling/admin/cmd"

func main() {
	cmd.Execute()
}
