package main

import "github.com/materials-commons/mcload/cmd/mcloadd/cmd"

func main() {
	cmd.Execute()
}
