package main

import "eggplot/host/cmd/eggplot/cmd"

func main() {
	cmd.Execute()
}
