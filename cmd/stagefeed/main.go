package main

import "github.com/bryanchriswhite/StageFeed/cmd/stagefeed/commands"

func main() {
	commands.Execute()
}
