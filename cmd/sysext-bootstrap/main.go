package main

import "github.com/krishjainx/bootengine/cmd/sysext-bootstrap/cmd"

func main() {
	cmd.Execute()
}
