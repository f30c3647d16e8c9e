package main

import "github.com/devicelab-dev/tapresolver/pkg/cli"

func main() {
	cli.Execute()
}
