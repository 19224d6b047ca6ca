package main

import "github.com/dayuer/convoflow-go/cmd"

func main() {
	cmd.Execute()
}
