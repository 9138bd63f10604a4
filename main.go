package main

import "github.com/andrejsstepanovs/zuul-build/cmd"

func main() {
	cmd.Execute()
}
