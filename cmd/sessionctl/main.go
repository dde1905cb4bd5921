package main

import "github.com/jmcleod/sessionkeeper/cmd/sessionctl/cmd"

func main() {
	cmd.Execute()
}
