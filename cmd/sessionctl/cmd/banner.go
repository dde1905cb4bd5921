package cmd

import (
	"fmt"
	"io"
)

const banner = `
                     _                  _   _ 
  ___  ___  ___ ___(_) ___  _ __   ___| |_| |
 / __|/ _ \/ __/ __| |/ _ \| '_ \ / __| __| |
 \__ \  __/\__ \__ \ | (_) | | | | (__| |_| |
 |___/\___||___/___/_|\___/|_| |_|\___|\__|_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m\n", banner)
	fmt.Fprintf(w, "\x1b[32m  Session API Dev Server - Version %s\x1b[0m\n\n", Version)
}
