package main

import "github.com/felixgeelhaar/neai/cmd/neai/cli"

func main() {
	cli.Execute()
}
