package main

import "github.com/Tiliavir/timeentry-reconciler/cmd"

func main() {
	cmd.Execute()
}
