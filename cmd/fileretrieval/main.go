package main

import "github.com/riskinsure/fileretrieval/internal/cli"

func main() {
	cli.Execute()
}
