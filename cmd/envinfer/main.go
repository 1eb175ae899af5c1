package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	infer := &inferCommand{}
	var cmd command = infer

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	cmd.Register(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Usage: envinfer %s\n", cmd.Args())
		os.Exit(1)
	}

	if infer.missingRequiredArgs() {
		fmt.Fprintf(os.Stderr, "envinfer: --langdir and --program are required\n")
		fmt.Fprintf(os.Stderr, "Usage: envinfer %s\n", cmd.Args())
		os.Exit(-1)
	}

	if err := cmd.Run(fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
