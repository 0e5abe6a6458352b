package main

import "specter/cmd"

func main() {
	cmd.Execute()
}
