// file: main_test.go
// version: 2.0.0
// guid: ba2e4b30-b288-4077-82f3-0739de1349dd

package main

import (
	"os"
	"testing"
)

func TestMainHelp(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	origArgs := os.Args
	defer func() {
		os.Args = origArgs
	}()
	os.Args = []string{"video-autoprocessor", "--help"}

	main()
}
