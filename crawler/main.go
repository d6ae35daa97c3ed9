package main

import "github.com/Rabenherz112/map-the-net-crawler/cmd"

func main() {
	cmd.Execute()
}
