package main

import "github.com/Mr-SGXXX/pyerm/cmd"

func main() {
	cmd.Execute()
}
