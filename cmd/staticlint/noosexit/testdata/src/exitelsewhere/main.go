package main

import "os"

func fail() {
	os.Exit(1)
}

func main() {
	fail()
}
