package main

import "github.com/tiny64vm/tiny64/cmd"

func main() {
	cmd.Execute()
}
