package main

import "github.com/marcus/napwatch/cmd/napwatch/commands"

func main() {
	commands.Execute()
}
