package main

import "github.com/terraconstructs/viewbridge/cmd/viewbridge/cmd"

func main() {
	cmd.Execute()
}
