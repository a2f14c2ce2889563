package main

import "github.com/backfs-project/backfs/cmd"

func main() {
	cmd.Execute()
}
