package main

import "issuemind.app/triage/internal/cli"

func main() {
	cli.Execute()
}
