// Command nfcard reads NFC tags technology by technology and reports what
// each technology yielded.
package main

import "github.com/nedpals/nfcard/cmd"

func main() {
	cmd.Execute()
}
