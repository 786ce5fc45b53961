// vidpipe/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"vidpipe/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
