package main

import "taskengine/cmd"

func main() {
	cmd.Execute()
}
