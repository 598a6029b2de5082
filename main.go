package main

import "exectrace/cmd"

func main() {
	cmd.Execute()
}
