package main

import "flag"

// runOptions holds the small set of flags this wiring entrypoint
// needs. Actual command parsing (subcommands, REPL input) belongs to
// the CLI front-end, an external collaborator per spec.
type runOptions struct {
	configPath  string
	keysPath    string
	dataDir     string
	alias       string
	prompt      string
	showVersion bool
}

func parseFlags(args []string) (runOptions, error) {
	fs := flag.NewFlagSet("lcgw", flag.ContinueOnError)
	opts := runOptions{}
	fs.StringVar(&opts.configPath, "config", "lcgw.yaml", "path to the provider/alias config file")
	fs.StringVar(&opts.keysPath, "keys", "keys.yaml", "path to the secret keys file")
	fs.StringVar(&opts.dataDir, "data-dir", ".lcgw", "directory for chat history, vector stores, and model metadata cache")
	fs.StringVar(&opts.alias, "alias", "", "alias or provider/model to demonstrate a chat call against")
	fs.StringVar(&opts.prompt, "prompt", "", "if set, runs one chat completion against -alias and prints the response")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return runOptions{}, err
	}
	return opts, nil
}
