package main

import "github.com/oshokin/guardian-engine/cmd/guardian-server/cmd"

func main() {
	cmd.Execute()
}
