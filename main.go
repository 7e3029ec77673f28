package main

import "github.com/fiverlaine/tracktelegram/cmd"

func main() {
	cmd.Execute()
}
