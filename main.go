package main

import "github.com/ngld/icu-build/cmd"

func main() {
	cmd.Execute()
}
