// Command tokenplan manages training-plan token compositions.
package main

import "github.com/mesh-intelligence/tokenplan/internal/cli"

func main() {
	cli.Execute()
}
