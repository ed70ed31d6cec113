package main

import "github.com/ValentinKolb/blockstm/cmd"

func main() {
	cmd.Execute()
}
