// Command tamiasd runs the agent daemon and talks to a running one.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}
