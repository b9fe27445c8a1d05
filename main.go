package main

import "github.com/kebairia/mariabak/cmd"

func main() {
	cmd.Execute()
}
