package main

import "options-harvester/internal/cli"

func main() {
	cli.Execute()
}
