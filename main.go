package main

import (
	"os"

	"github.com/snakeclub/chat-robot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
