package main

import "fileup/cmd"

func main() {
	cmd.Execute()
}
