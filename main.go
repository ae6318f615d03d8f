package main

import "github.com/mholwick/trendbot/cmd"

func main() {
	cmd.Execute()
}
