package main

import "github.com/oshokin/guardian-engine/cmd/guardian-trigger/cmd"

func main() {
	cmd.Execute()
}
