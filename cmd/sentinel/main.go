package main

import "github.com/mcpsentinel/sentinel/internal/cli"

func main() {
	cli.Execute()
}
