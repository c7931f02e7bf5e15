package main

import (
	"flag"
	"fmt"
	"os"

	intrnl "workspacechat/internal"
	"workspacechat/internal/app"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	cfg, err := app.ParseClientConfig(flag.CommandLine, os.Args[1:])
	if *showVersion {
		fmt.Println(intrnl.VersionString("wschat"))
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
