package main

import "github.com/markb/firelite/cmd"

func main() {
	cmd.Execute()
}
