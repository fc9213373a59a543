package main

import "github.com/crawlkit/mediaharvest/cmd"

func main() {
	cmd.Execute()
}
