package main

import "github.com/vietddude/watcher/internal/cli"

func main() {
	cli.Execute()
}
