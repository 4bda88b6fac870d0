package main

import "github.com/oshokin/ucb-deployer/cmd/ucb-deployer/cmd"

func main() {
	cmd.Execute()
}
