package main

import "counselchat/internal/cli"

func main() {
	cli.Execute()
}
