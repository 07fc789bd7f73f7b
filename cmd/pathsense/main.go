package main

import "github.com/MeKo-Tech/pathsense/cmd/pathsense/cmd"

func main() {
	cmd.Execute()
}
