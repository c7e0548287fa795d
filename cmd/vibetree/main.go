package main

import "github.com/vibetree/vibetree/internal/cmd"

func main() {
	cmd.Execute()
}
