package main

import "github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/cmd"

func main() {
	cmd.Execute()
}
