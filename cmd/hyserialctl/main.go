package main

import "hyserial/cmd/hyserialctl/cmd"

func main() {
	cmd.Execute()
}
