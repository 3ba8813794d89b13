/*
	Copyright 2023 Markus Papenbrock
*/

package main

import "github.com/mpapenbr/iracelog-racemodel/cmd"

func main() {
	cmd.Execute()
}
