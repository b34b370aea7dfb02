package main

import "github.com/crewmesh/overseer/cmd"

func main() {
	cmd.Execute()
}
