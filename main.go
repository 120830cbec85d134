package main

import "github.com/andresmejia3/headpose/cmd"

func main() {
	cmd.Execute()
}
