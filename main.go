package main

import "github.com/upak-space/upak-auth/cmd"

func main() {
	cmd.Execute()
}
