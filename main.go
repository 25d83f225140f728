package main

import "github.com/francor/frankly-go/cmd"

func main() {
	cmd.Execute()
}
