package main

import "github.com/fakeyudi/wolf/cmd"

func main() {
	cmd.Execute()
}
