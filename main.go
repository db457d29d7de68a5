package main

import "github.com/techfriendly/xpider-huelva/cmd"

func main() {
	cmd.Execute()
}
