package main

import "daytrading-core/internal/cli"

func main() {
	cli.Execute()
}
