package main

import "energy-ingest/internal/cli"

func main() {
	cli.Execute()
}
