package main

import "github.com/hashforge/statetried/internal/cli"

func main() {
	cli.Execute()
}
