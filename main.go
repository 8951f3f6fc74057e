// file: main.go
// version: 2.0.0
// guid: 19e71cd5-cdaa-47d4-8db9-d0968ddd4e2b

package main

import (
	"fmt"
	"os"

	"github.com/jdfalk/video-autoprocessor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
