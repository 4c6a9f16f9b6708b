package main

import "github.com/fho/dsyncd/cmd/dsyncctl/cmd"

func main() {
	cmd.Execute()
}
