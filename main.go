package main

import "github.com/TBoris/gorynych/cmd"

func main() {
	cmd.Execute()
}
