package main

import "alertrelay/internal/cli"

func main() {
	cli.Execute()
}
