// Package main is the entry point for the kalita server and CLI.
package main

func main() {
	Execute()
}
