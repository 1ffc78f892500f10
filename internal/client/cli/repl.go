package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL drives. The real App satisfies
// it; tests provide a lightweight stub.
type execIface interface {
	exec(ctx context.Context, args []string) error
}

// runREPL starts a read-eval-print loop over scanner.
//
// Each line is split into fields and handed to a.exec. Unknown commands are
// reported back to the user. The loop exits on scanner EOF, when ctx ends,
// or when the user types "exit" or "quit".
//
// Command errors are not fatal here; exec reports them itself.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("zm %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		if parts[0] == "exit" || parts[0] == "quit" {
			printlnFn("Bye!")
			return
		}

		if err := a.exec(ctx, parts); errors.Is(err, errUnknownCommand) {
			printlnFn("Unknown command:", parts[0])
		}
	}
}
