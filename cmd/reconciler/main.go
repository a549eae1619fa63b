package main

import "github.com/vietddude/explorer/internal/cli"

func main() {
	cli.Execute()
}
