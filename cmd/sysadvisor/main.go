package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/doeshing/sysadvisor/internal/infrastructure/cli"
)

func main() {
	err := cli.Execute(context.Background(), os.Args[1:])
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(130)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	if hint := cli.Hint(err); hint != "" {
		fmt.Fprintln(os.Stderr, "hint:", hint)
	}
	os.Exit(1)
}
