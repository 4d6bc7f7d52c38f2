package main

import "github.com/ValentinKolb/storekit/cmd"

func main() {
	cmd.Execute()
}
