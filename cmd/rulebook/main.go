package main

import "github.com/behzadon/rulebook/cmd"

func main() {
	cmd.Execute()
}
