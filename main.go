package main

import "github.com/wikimedia/rcstream/cmd"

func main() {
	cmd.Execute()
}
