package main

import "bananastudio/cmd/nanoctl/commands"

func main() {
	commands.Execute()
}
