package main

import "github.com/finside/bankrag/internal/cli"

func main() {
	cli.Execute()
}
