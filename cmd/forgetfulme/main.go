package main

import "github.com/davidshq/forgetfulme-sub002/cmd/forgetfulme/cmd"

func main() {
	cmd.Execute()
}
