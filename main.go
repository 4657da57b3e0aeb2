package main

import "github.com/notargets/gosles/cmd"

func main() {
	cmd.Execute()
}
