package main

import "pokerclub/internal/cli"

func main() {
	cli.Execute()
}
