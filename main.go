package main

import "github.com/crossvenue/kalshi-poly-arb/cmd"

func main() {
	cmd.Execute()
}
