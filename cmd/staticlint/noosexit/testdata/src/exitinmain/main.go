package main

import (
	"os"
	system "os"
)

func main() {
	defer println("never printed")

	if len(os.Args) > 3 {
		system.Exit(2) // want "avoid using os.Exit in main.main"
	}
	os.Exit(1) // want "avoid using os.Exit in main.main"
}
