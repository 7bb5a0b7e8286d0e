package main

import "github.com/newswire-labs/clusterstream/cmd"

func main() {
	cmd.Execute()
}
