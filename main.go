package main

import "github.com/theirongolddev/cwarden/cmd"

func main() {
	cmd.Execute()
}
