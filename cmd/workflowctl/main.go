package main

import "github.com/ZORA-CORE/ZORA-CORE-sub001/internal/cli"

func main() {
	cli.Execute()
}
