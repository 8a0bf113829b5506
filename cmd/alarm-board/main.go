package main

import "github.com/workbell/alarm-board/cmd/alarm-board/cmd"

func main() {
	cmd.Execute()
}
