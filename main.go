package main

import "github.com/tanq16/fetchpool/cmd"

func main() {
	cmd.Execute()
}
