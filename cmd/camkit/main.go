package main

import "github.com/camkit/camkit/cmd/camkit/commands"

func main() {
	commands.Execute()
}
