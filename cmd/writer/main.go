package main

import "github.com/vietddude/writer/internal/cli"

func main() {
	cli.Execute()
}
