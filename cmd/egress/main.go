package main

import "github.com/vietddude/egress/internal/cli"

func main() {
	cli.Execute()
}
