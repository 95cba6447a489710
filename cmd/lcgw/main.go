// lcgw is a local LLM gateway core: it unifies many remote providers
// behind one OpenAI-compatible canonical surface. CLI parsing and
// interactive terminal input are external collaborators; this binary
// exists to wire the core components together and run a one-shot
// demonstration call, not to be the project's user-facing CLI.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println("lcgw", version)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
