package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		// Pass the server's own exit code through to scripts
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) && exitErr.code > 0 {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}
