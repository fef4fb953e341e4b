package main

import "github.com/kenyaclaw/africa-payments-mcp-sub000/internal/cli"

func main() {
	cli.Execute()
}
