// Package main provides zcshare, a driver for zero-copy shared data files
// coordinated through an advisory lock channel.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/golang/glog"

	"github.com/calvinalkan/zcshare/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	// Library logs go to stderr unless --logtostderr=false is passed.
	_ = flag.Set("logtostderr", "true")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh)

	log.Flush()
	os.Exit(exitCode)
}
