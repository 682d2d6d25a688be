package main

import "github.com/taar/callqa-pipeline/cmd"

func main() {
	cmd.Execute()
}
