package main

import "github.com/krishjainx/bootengine/cmd/sysext-pack/cmd"

func main() {
	cmd.Execute()
}
