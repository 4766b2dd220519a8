package main

import "github.com/JakeFAU/ragharvest/cmd"

func main() {
	cmd.Execute()
}
